package events

import (
	"time"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

const (
	TypeSessionJoined = "session.joined"
	TypeSessionLeft   = "session.left"
)

// LeaveReason explains why a participant left a session.
type LeaveReason string

const (
	LeaveExplicit   LeaveReason = "explicit"
	LeaveSwitched   LeaveReason = "switched"
	LeaveDisconnect LeaveReason = "disconnect"
)

// SessionJoined is raised when a participant is admitted to a live session
type SessionJoined struct {
	BaseEvent
	DocumentID   string `json:"document_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	Level        string `json:"level"`
}

// NewSessionJoined creates a SessionJoined event
func NewSessionJoined(documentID, userID, connectionID, level string, timestamp time.Time) SessionJoined {
	return SessionJoined{
		BaseEvent: BaseEvent{
			AggregateID: documentID,
			EventType:   TypeSessionJoined,
			Timestamp:   timestamp,
			Version:     1,
		},
		DocumentID:   documentID,
		UserID:       userID,
		ConnectionID: connectionID,
		Level:        level,
	}
}

// SessionLeft is raised when a participant leaves a live session
type SessionLeft struct {
	BaseEvent
	DocumentID   string      `json:"document_id"`
	UserID       string      `json:"user_id"`
	ConnectionID string      `json:"connection_id"`
	Reason       LeaveReason `json:"reason"`
}

// NewSessionLeft creates a SessionLeft event
func NewSessionLeft(documentID, userID, connectionID string, reason LeaveReason, timestamp time.Time) SessionLeft {
	return SessionLeft{
		BaseEvent: BaseEvent{
			AggregateID: documentID,
			EventType:   TypeSessionLeft,
			Timestamp:   timestamp,
			Version:     1,
		},
		DocumentID:   documentID,
		UserID:       userID,
		ConnectionID: connectionID,
		Reason:       reason,
	}
}
