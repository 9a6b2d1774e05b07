// Package breaker guards a document store with a circuit breaker so a failing
// backend is not hammered by every join attempt.
package breaker

import (
	"context"
	"errors"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"
	apperrors "mindsync/pkg/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings configures the breaker.
type Settings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
}

// DocumentRepository decorates another repository. Consecutive store failures
// open the circuit; while open, calls fail fast with an unavailable error.
type DocumentRepository struct {
	next ports.DocumentRepository
	cb   *gobreaker.CircuitBreaker
}

// New wraps next.
func New(next ports.DocumentRepository, settings Settings, logger *zap.Logger) *DocumentRepository {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Missing documents and cancelled callers say nothing about store health.
			return err == nil ||
				errors.Is(err, ports.ErrDocumentNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &DocumentRepository{next: next, cb: cb}
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// State returns the current breaker state.
func (r *DocumentRepository) State() gobreaker.State {
	return r.cb.State()
}

func (r *DocumentRepository) LoadAccess(ctx context.Context, documentID string) (mindmap.Access, error) {
	result, err := r.execute(func() (interface{}, error) {
		return r.next.LoadAccess(ctx, documentID)
	})
	if err != nil {
		return mindmap.Access{}, err
	}
	return result.(mindmap.Access), nil
}

func (r *DocumentRepository) Get(ctx context.Context, documentID string) (*mindmap.Document, error) {
	result, err := r.execute(func() (interface{}, error) {
		return r.next.Get(ctx, documentID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*mindmap.Document), nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *mindmap.Document) error {
	_, err := r.execute(func() (interface{}, error) {
		return nil, r.next.Save(ctx, doc)
	})
	return err
}

func (r *DocumentRepository) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := r.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.NewUnavailableError("document store").WithCause(err)
	}
	return result, err
}
