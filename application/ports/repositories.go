package ports

import (
	"context"
	"errors"

	"mindsync/domain/events"
	"mindsync/domain/mindmap"
)

// ErrDocumentNotFound is returned by stores for unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// AccessReader resolves who may touch a document.
type AccessReader interface {
	// LoadAccess returns the owner and permission records of a document.
	LoadAccess(ctx context.Context, documentID string) (mindmap.Access, error)
}

// DocumentRepository is the persisted document store. Save overwrites the
// stored structure unconditionally.
type DocumentRepository interface {
	AccessReader
	Get(ctx context.Context, documentID string) (*mindmap.Document, error)
	Save(ctx context.Context, doc *mindmap.Document) error
}

// PresencePublisher forwards session membership events to interested
// systems. Publish must not block.
type PresencePublisher interface {
	Publish(event events.DomainEvent)
}

// NoopPresencePublisher discards every event.
type NoopPresencePublisher struct{}

func (NoopPresencePublisher) Publish(events.DomainEvent) {}
