// Package memory is an in-process document store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"
)

// DocumentRepository keeps documents and permission records in maps.
type DocumentRepository struct {
	mu          sync.RWMutex
	documents   map[string]mindmap.Document
	permissions map[string][]mindmap.Permission
	now         func() time.Time
}

// NewDocumentRepository creates an empty store.
func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		documents:   make(map[string]mindmap.Document),
		permissions: make(map[string][]mindmap.Permission),
		now:         time.Now,
	}
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// Create stores a new document as-is.
func (r *DocumentRepository) Create(doc mindmap.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}
	doc.UpdatedAt = doc.CreatedAt
	r.documents[doc.ID] = cloneDocument(doc)
}

// Grant records a permission, replacing any existing record for the user.
func (r *DocumentRepository) Grant(p mindmap.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()

	perms := r.permissions[p.DocumentID]
	for i := range perms {
		if perms[i].UserID == p.UserID {
			perms[i] = p
			return
		}
	}
	r.permissions[p.DocumentID] = append(perms, p)
}

// LoadAccess implements ports.AccessReader.
func (r *DocumentRepository) LoadAccess(ctx context.Context, documentID string) (mindmap.Access, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return mindmap.Access{}, ports.ErrDocumentNotFound
	}

	return mindmap.Access{
		DocumentID:  doc.ID,
		OwnerID:     doc.OwnerID,
		IsPublic:    doc.IsPublic,
		Permissions: append([]mindmap.Permission(nil), r.permissions[documentID]...),
	}, nil
}

// Get implements ports.DocumentRepository.
func (r *DocumentRepository) Get(ctx context.Context, documentID string) (*mindmap.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return nil, ports.ErrDocumentNotFound
	}
	clone := cloneDocument(doc)
	return &clone, nil
}

// Save overwrites the title and structure of an existing document.
func (r *DocumentRepository) Save(ctx context.Context, doc *mindmap.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.documents[doc.ID]
	if !ok {
		return ports.ErrDocumentNotFound
	}

	stored.Title = doc.Title
	stored.Nodes = doc.Nodes
	stored.Connections = doc.Connections
	stored.UpdatedAt = r.now()
	r.documents[doc.ID] = cloneDocument(stored)

	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

func cloneDocument(doc mindmap.Document) mindmap.Document {
	nodes := make([]mindmap.Node, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Size != nil {
			size := *n.Size
			n.Size = &size
		}
		topics := make([]mindmap.Topic, len(n.Topics))
		for j, t := range n.Topics {
			t.Links = append([]mindmap.Link(nil), t.Links...)
			topics[j] = t
		}
		n.Topics = topics
		nodes[i] = n
	}
	doc.Nodes = nodes
	doc.Connections = append([]mindmap.Connection{}, doc.Connections...)
	return doc
}
