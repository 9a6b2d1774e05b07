// Package presence drives each connection through its session lifecycle:
// connect, join, leave and disconnect.
package presence

import (
	"context"
	"time"

	"mindsync/application/ports"
	"mindsync/application/session"
	"mindsync/domain/events"
	"mindsync/domain/mindmap"
	"mindsync/pkg/observability"

	"go.uber.org/zap"
)

// Join results recorded in metrics.
const (
	resultAdmitted = "admitted"
	resultDenied   = "denied"
	resultStale    = "stale"
)

// Authorizer decides whether a user may join a document's session.
type Authorizer interface {
	Authorize(ctx context.Context, userID, documentID string) (mindmap.PermissionLevel, error)
}

// Connection is the lifecycle state of one transport connection. It is owned
// by the goroutine that drives the Lifecycle and must not be shared.
type Connection struct {
	conn       session.Conn
	userID     string
	state      State
	documentID string
	attempt    uint64
}

func (c *Connection) ID() string         { return c.conn.ID() }
func (c *Connection) UserID() string     { return c.userID }
func (c *Connection) State() State       { return c.state }
func (c *Connection) DocumentID() string { return c.documentID }

func (c *Connection) fire(e Event) bool {
	next, ok := transition(c.state, e)
	if ok {
		c.state = next
	}
	return ok
}

// JoinTicket identifies one join attempt. A decision for an attempt that has
// since been superseded, cancelled or disconnected is discarded.
type JoinTicket struct {
	DocumentID string
	UserID     string
	attempt    uint64
	conn       *Connection
}

// JoinDecision is the outcome of authorizing a ticket.
type JoinDecision struct {
	Ticket JoinTicket
	Level  mindmap.PermissionLevel
	Err    error
}

// Outcome is what CompleteJoin did with a decision.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeDenied
	OutcomeStale
)

// Lifecycle applies connection events to the session registry. Every method
// except Authorize mutates state and must be called from a single goroutine.
type Lifecycle struct {
	registry  *session.Registry
	gate      Authorizer
	publisher ports.PresencePublisher
	logger    *zap.Logger
	metrics   *observability.Collector
	now       func() time.Time
}

// NewLifecycle creates a lifecycle over the given registry.
func NewLifecycle(
	registry *session.Registry,
	gate Authorizer,
	publisher ports.PresencePublisher,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Lifecycle {
	if publisher == nil {
		publisher = ports.NoopPresencePublisher{}
	}
	return &Lifecycle{
		registry:  registry,
		gate:      gate,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Connect registers an authenticated transport connection.
func (l *Lifecycle) Connect(conn session.Conn, userID string) *Connection {
	l.metrics.ConnectionOpened()
	return &Connection{conn: conn, userID: userID, state: Connected}
}

// BeginJoin starts a join attempt. A connection joined to another document
// leaves it first. It returns false when the connection is already joined to
// documentID or has disconnected; no authorization is needed then.
func (l *Lifecycle) BeginJoin(c *Connection, documentID string) (JoinTicket, bool) {
	if c.state == Joined && c.documentID == documentID {
		return JoinTicket{}, false
	}
	if c.state == Joined {
		l.leaveRoom(c, events.LeaveSwitched)
	}
	if !c.fire(EventJoin) {
		return JoinTicket{}, false
	}

	c.attempt++
	c.documentID = documentID
	return JoinTicket{
		DocumentID: documentID,
		UserID:     c.userID,
		attempt:    c.attempt,
		conn:       c,
	}, true
}

// Authorize consults the gate for a ticket. It touches no lifecycle state and
// may run on any goroutine.
func (l *Lifecycle) Authorize(ctx context.Context, ticket JoinTicket) JoinDecision {
	level, err := l.gate.Authorize(ctx, ticket.UserID, ticket.DocumentID)
	return JoinDecision{Ticket: ticket, Level: level, Err: err}
}

// CompleteJoin applies a decision. Admission only happens if the connection is
// still in the attempt the ticket was issued for.
func (l *Lifecycle) CompleteJoin(d JoinDecision) Outcome {
	c := d.Ticket.conn
	if c == nil || c.state != Joining || c.attempt != d.Ticket.attempt {
		l.metrics.RecordJoin(resultStale)
		return OutcomeStale
	}

	if d.Err == nil {
		err := l.registry.Join(d.Ticket.DocumentID, &session.Participant{
			Conn:   c.conn,
			UserID: c.userID,
			Level:  d.Level,
		})
		if err != nil {
			d.Err = err
			l.logger.Error("Registry refused admission",
				zap.Error(err),
				zap.String("connectionID", c.ID()),
				zap.String("documentID", d.Ticket.DocumentID),
			)
		}
	}

	if d.Err != nil {
		c.fire(EventDeny)
		c.documentID = ""
		l.metrics.RecordJoin(resultDenied)
		l.logger.Info("Join denied",
			zap.String("connectionID", c.ID()),
			zap.String("userID", c.userID),
			zap.String("documentID", d.Ticket.DocumentID),
		)
		return OutcomeDenied
	}

	c.fire(EventAdmit)
	l.metrics.RecordJoin(resultAdmitted)
	l.metrics.SetSessions(l.registry.SessionCount())
	l.publisher.Publish(events.NewSessionJoined(d.Ticket.DocumentID, c.userID, c.ID(), string(d.Level), l.now()))
	l.logger.Info("Participant joined",
		zap.String("connectionID", c.ID()),
		zap.String("userID", c.userID),
		zap.String("documentID", d.Ticket.DocumentID),
	)
	return OutcomeAdmitted
}

// Leave removes the connection from documentID's session, or cancels a
// pending join for it. Anything else is a no-op.
func (l *Lifecycle) Leave(c *Connection, documentID string) bool {
	if c.documentID != documentID {
		return false
	}

	switch c.state {
	case Joined:
		l.leaveRoom(c, events.LeaveExplicit)
		return true
	case Joining:
		c.fire(EventLeave)
		c.attempt++
		c.documentID = ""
		return true
	default:
		return false
	}
}

// Level returns the permission level the connection was admitted with, or
// the empty level if it is not in a session.
func (l *Lifecycle) Level(c *Connection) mindmap.PermissionLevel {
	if c.state != Joined {
		return ""
	}
	if p, ok := l.registry.Member(c.documentID, c.ID()); ok {
		return p.Level
	}
	return ""
}

// Disconnect tears the connection down, leaving whatever session it is in.
// It is safe to call more than once.
func (l *Lifecycle) Disconnect(c *Connection) {
	if c.state == Disconnected {
		return
	}

	for _, documentID := range l.registry.LeaveAll(c.ID()) {
		l.publisher.Publish(events.NewSessionLeft(documentID, c.userID, c.ID(), events.LeaveDisconnect, l.now()))
	}
	c.fire(EventDisconnect)
	c.attempt++
	c.documentID = ""

	l.metrics.ConnectionClosed()
	l.metrics.SetSessions(l.registry.SessionCount())
}

func (l *Lifecycle) leaveRoom(c *Connection, reason events.LeaveReason) {
	documentID := c.documentID
	if l.registry.Leave(documentID, c.ID()) {
		l.publisher.Publish(events.NewSessionLeft(documentID, c.userID, c.ID(), reason, l.now()))
	}
	c.fire(EventLeave)
	c.documentID = ""

	l.metrics.SetSessions(l.registry.SessionCount())
	l.logger.Info("Participant left",
		zap.String("connectionID", c.ID()),
		zap.String("documentID", documentID),
		zap.String("reason", string(reason)),
	)
}
