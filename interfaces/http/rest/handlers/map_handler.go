package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"mindsync/application/services"
	"mindsync/domain/mindmap"
	"mindsync/pkg/auth"
	apperrors "mindsync/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxSaveBodyBytes bounds PUT bodies; a saved map is the whole document.
const maxSaveBodyBytes = 8 << 20

// MapHandler handles mind map HTTP requests
type MapHandler struct {
	documents *services.DocumentService
	errors    *apperrors.ErrorHandler
	logger    *zap.Logger
}

// NewMapHandler creates a new map handler
func NewMapHandler(documents *services.DocumentService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *MapHandler {
	return &MapHandler{
		documents: documents,
		errors:    errorHandler,
		logger:    logger,
	}
}

// MapResponse is the JSON shape of a map.
type MapResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Owner       string               `json:"owner"`
	Nodes       []mindmap.Node       `json:"nodes"`
	Connections []mindmap.Connection `json:"connections"`
	IsPublic    bool                 `json:"isPublic"`
	ShareID     string               `json:"shareId,omitempty"`
	CreatedAt   string               `json:"createdAt,omitempty"`
	UpdatedAt   string               `json:"updatedAt,omitempty"`
}

// GetMap handles GET /api/maps/{mapID}
func (h *MapHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	doc, err := h.documents.Get(r.Context(), userCtx.UserID, chi.URLParam(r, "mapID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, toResponse(doc))
}

// SaveMap handles PUT /api/maps/{mapID}. The body replaces the stored
// structure; there is no merge with concurrent saves.
func (h *MapHandler) SaveMap(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	var req services.SaveDocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSaveBodyBytes)).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	doc, err := h.documents.Save(r.Context(), userCtx.UserID, chi.URLParam(r, "mapID"), req)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, toResponse(doc))
}

func toResponse(doc *mindmap.Document) MapResponse {
	resp := MapResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Owner:       doc.OwnerID,
		Nodes:       doc.Nodes,
		Connections: doc.Connections,
		IsPublic:    doc.IsPublic,
		ShareID:     doc.ShareID,
	}
	if resp.Nodes == nil {
		resp.Nodes = []mindmap.Node{}
	}
	if resp.Connections == nil {
		resp.Connections = []mindmap.Connection{}
	}
	if !doc.CreatedAt.IsZero() {
		resp.CreatedAt = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !doc.UpdatedAt.IsZero() {
		resp.UpdatedAt = doc.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *MapHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
