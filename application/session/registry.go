// Package session tracks which connections are live-editing which document.
package session

import (
	"errors"
	"sync"

	"mindsync/domain/mindmap"
)

// ErrInOtherSession is returned when a connection that already belongs to one
// document's session tries to join another without leaving first.
var ErrInOtherSession = errors.New("connection already joined to another document")

// Conn is the transport handle a participant is reached through.
type Conn interface {
	// ID uniquely identifies the connection for the life of the process.
	ID() string
	// Deliver queues a frame without blocking. It returns false when the
	// frame could not be queued.
	Deliver(frame []byte) bool
}

// Participant is one admitted connection.
type Participant struct {
	Conn   Conn
	UserID string
	Level  mindmap.PermissionLevel
}

// Registry maps document ids to their current participants. It is process
// local; each server composes and owns exactly one instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Participant // documentID -> connID -> participant
	rooms    map[string]string                  // connID -> documentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Participant),
		rooms:    make(map[string]string),
	}
}

// Join adds p to the document's session, creating the session if needed.
// Joining the same document again refreshes the participant in place.
func (r *Registry) Join(documentID string, p *Participant) error {
	connID := p.Conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.rooms[connID]; ok && current != documentID {
		return ErrInOtherSession
	}

	members, ok := r.sessions[documentID]
	if !ok {
		members = make(map[string]*Participant)
		r.sessions[documentID] = members
	}
	members[connID] = p
	r.rooms[connID] = documentID
	return nil
}

// Leave removes the connection from the document's session and evicts the
// session once empty. It reports whether the connection was a member.
func (r *Registry) Leave(documentID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(documentID, connID)
}

// LeaveAll removes the connection from whatever session it is in and returns
// the documents it left.
func (r *Registry) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	documentID, ok := r.rooms[connID]
	if !ok {
		return nil
	}
	r.leaveLocked(documentID, connID)
	return []string{documentID}
}

func (r *Registry) leaveLocked(documentID, connID string) bool {
	members, ok := r.sessions[documentID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}

	delete(members, connID)
	delete(r.rooms, connID)
	if len(members) == 0 {
		delete(r.sessions, documentID)
	}
	return true
}

// BroadcastTargets returns every current member of the session except the
// excluded connection. The result reflects membership at the time of the call.
func (r *Registry) BroadcastTargets(documentID, excludeConnID string) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.sessions[documentID]
	targets := make([]*Participant, 0, len(members))
	for connID, p := range members {
		if connID != excludeConnID {
			targets = append(targets, p)
		}
	}
	return targets
}

// Member returns the participant for connID if it is in the document's session.
func (r *Registry) Member(documentID, connID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[documentID][connID]
	return p, ok
}

// RoomOf returns the document the connection is currently joined to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	documentID, ok := r.rooms[connID]
	return documentID, ok
}

// Size returns the number of participants in the document's session.
func (r *Registry) Size(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions[documentID])
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
