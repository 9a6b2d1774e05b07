package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"
	apperrors "mindsync/pkg/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SaveDocumentRequest is the full structure committed by an explicit save.
type SaveDocumentRequest struct {
	Title       string               `json:"title" validate:"max=200"`
	Nodes       []mindmap.Node       `json:"nodes" validate:"dive"`
	Connections []mindmap.Connection `json:"connections" validate:"dive"`
}

// DocumentService reads and saves whole documents. Saves overwrite whatever
// is stored, so the last explicit save wins over any concurrent live edits.
type DocumentService struct {
	repo     ports.DocumentRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(repo ports.DocumentRepository, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

// Get returns the document if userID owns it, holds any permission on it, or
// the document is public.
func (s *DocumentService) Get(ctx context.Context, userID, documentID string) (*mindmap.Document, error) {
	access, err := s.loadAccess(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(userID) {
		return nil, apperrors.NewForbiddenError("you do not have access to this map")
	}

	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, s.storeError("get", documentID, err)
	}
	return doc, nil
}

// Save overwrites the title, nodes and connections of the document. Only the
// owner and edit holders may save.
func (s *DocumentService) Save(ctx context.Context, userID, documentID string, req SaveDocumentRequest) (*mindmap.Document, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	access, err := s.loadAccess(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !access.CanEdit(userID) {
		return nil, apperrors.NewForbiddenError("you do not have permission to edit this map")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = mindmap.DefaultTitle
	}

	doc := &mindmap.Document{
		ID:          documentID,
		OwnerID:     access.OwnerID,
		Title:       title,
		Nodes:       nonNilNodes(req.Nodes),
		Connections: nonNilConnections(req.Connections),
		IsPublic:    access.IsPublic,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, s.storeError("save", documentID, err)
	}

	// The store owns share id and creation time; answer with its record.
	saved, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, s.storeError("reload", documentID, err)
	}

	s.logger.Info("Document saved",
		zap.String("documentID", documentID),
		zap.String("userID", userID),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("connections", len(doc.Connections)),
	)
	return saved, nil
}

func (s *DocumentService) validateRequest(req SaveDocumentRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	seen := make(map[string]struct{}, len(req.Nodes))
	for _, n := range req.Nodes {
		if !n.Position.Valid() {
			return apperrors.NewValidationError(fmt.Sprintf("node %q has a non-finite position", n.ID))
		}
		if _, dup := seen[n.ID]; dup {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

func (s *DocumentService) loadAccess(ctx context.Context, documentID string) (mindmap.Access, error) {
	access, err := s.repo.LoadAccess(ctx, documentID)
	if err != nil {
		return mindmap.Access{}, s.storeError("load access", documentID, err)
	}
	return access, nil
}

func (s *DocumentService) storeError(op, documentID string, err error) error {
	if errors.Is(err, ports.ErrDocumentNotFound) {
		return apperrors.NewNotFoundError("map")
	}
	if apperrors.IsUnavailable(err) {
		return err
	}
	s.logger.Error("Document store failed",
		zap.Error(err),
		zap.String("operation", op),
		zap.String("documentID", documentID),
	)
	return apperrors.NewDatabaseError(op, err)
}

func nonNilNodes(nodes []mindmap.Node) []mindmap.Node {
	if nodes == nil {
		return []mindmap.Node{}
	}
	return nodes
}

func nonNilConnections(conns []mindmap.Connection) []mindmap.Connection {
	if conns == nil {
		return []mindmap.Connection{}
	}
	return conns
}
