// Package permissions decides who may join a document's live editing session.
package permissions

import (
	"context"
	"errors"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"
	apperrors "mindsync/pkg/errors"
	"mindsync/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrAuthorizationDenied is returned when the user is neither the owner nor
// an editor of the document.
var ErrAuthorizationDenied = errors.New("authorization denied")

// DeniedMessage is shown to users refused entry to a session.
const DeniedMessage = "Você não tem permissão para editar este mapa."

// Gate authorizes joins against the document store. The live session is an
// editing surface, so view-only collaborators are denied.
type Gate struct {
	access  ports.AccessReader
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  *observability.Tracer
}

// NewGate creates a gate.
func NewGate(access ports.AccessReader, logger *zap.Logger, metrics *observability.Collector, tracer *observability.Tracer) *Gate {
	return &Gate{
		access:  access,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Authorize returns the level granted to userID on documentID, or an error
// wrapping ErrAuthorizationDenied. Store failures deny as well; the cause is
// kept in the chain for logging.
func (g *Gate) Authorize(ctx context.Context, userID, documentID string) (mindmap.PermissionLevel, error) {
	var access mindmap.Access

	start := time.Now()
	err := g.tracer.TraceFunction(ctx, "permissions.authorize", func(ctx context.Context) error {
		var err error
		access, err = g.access.LoadAccess(ctx, documentID)
		return err
	}, attribute.String("document.id", documentID), attribute.String("user.id", userID))
	g.metrics.RecordAccessLookup(lookupStatus(err), time.Since(start))

	if err != nil {
		if errors.Is(err, ports.ErrDocumentNotFound) {
			g.logger.Debug("Join denied, document not found",
				zap.String("documentID", documentID),
				zap.String("userID", userID),
			)
			return "", denied(err)
		}
		g.logger.Error("Permission lookup failed",
			zap.Error(err),
			zap.String("documentID", documentID),
			zap.String("userID", userID),
		)
		return "", denied(err)
	}

	if !access.CanEdit(userID) {
		return "", denied(nil)
	}
	return mindmap.LevelEdit, nil
}

func denied(cause error) error {
	appErr := apperrors.NewForbiddenError(DeniedMessage).WithCause(ErrAuthorizationDenied)
	if cause != nil {
		return errors.Join(appErr, cause)
	}
	return appErr
}

func lookupStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ports.ErrDocumentNotFound):
		return "not_found"
	default:
		return "error"
	}
}
