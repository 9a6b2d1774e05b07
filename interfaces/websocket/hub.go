package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"mindsync/application/permissions"
	"mindsync/application/presence"
	"mindsync/application/relay"
	"mindsync/domain/changes"
	"mindsync/pkg/observability"
	"mindsync/pkg/protocol"

	"go.uber.org/zap"
)

// HubConfig holds the hub's tunables.
type HubConfig struct {
	MaxBatchOps       int
	PermissionTimeout time.Duration
}

// Hub owns every live connection. All lifecycle transitions, registry
// mutations and relay fan-out happen on the Run goroutine; only permission
// lookups run elsewhere, and their results are posted back to the loop.
type Hub struct {
	lifecycle *presence.Lifecycle
	relay     *relay.Relay
	decoder   *changes.Decoder
	timeout   time.Duration

	// Owned by the Run goroutine
	clients map[*Client]*presence.Connection

	// Read by the server to enforce the per-user cap
	userConns map[string]int
	mu        sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	decisions  chan joinDecision

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger  *zap.Logger
	metrics *observability.Collector
}

type inboundFrame struct {
	client *Client
	frame  []byte
}

type joinDecision struct {
	client *Client
	presence.JoinDecision
}

// NewHub creates a new WebSocket hub
func NewHub(
	lifecycle *presence.Lifecycle,
	relay *relay.Relay,
	config HubConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if config.PermissionTimeout <= 0 {
		config.PermissionTimeout = 5 * time.Second
	}

	return &Hub{
		lifecycle:  lifecycle,
		relay:      relay,
		decoder:    changes.NewDecoder(config.MaxBatchOps),
		timeout:    config.PermissionTimeout,
		clients:    make(map[*Client]*presence.Connection),
		userConns:  make(map[string]int),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		inbound:    make(chan inboundFrame, 1000),
		decisions:  make(chan joinDecision, 100),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case in := <-h.inbound:
			h.handleFrame(in.client, in.frame)

		case d := <-h.decisions:
			h.completeJoin(d)
		}
	}
}

// Stop gracefully shuts down the hub and waits for the loop to exit.
func (h *Hub) Stop() {
	h.logger.Info("Stopping WebSocket hub")
	h.cancel()
	<-h.done
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// GetConnectionCount returns the number of active connections for a user
func (h *Hub) GetConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userConns[userID]
}

func (h *Hub) registerClient(client *Client) {
	conn := h.lifecycle.Connect(client, client.userID)
	h.clients[client] = conn

	h.mu.Lock()
	h.userConns[client.userID]++
	h.mu.Unlock()

	h.send(client, protocol.ConnectionEstablished, protocol.ConnectionInfo{
		ConnectionID: client.id,
		UserID:       client.userID,
	})
	go client.readPump()

	h.logger.Info("Client registered",
		zap.String("userID", client.userID),
		zap.String("connectionID", client.id),
	)
}

// unregisterClient is the single teardown path for a connection, whether the
// peer went away or the hub dropped it.
func (h *Hub) unregisterClient(client *Client) {
	conn, ok := h.clients[client]
	if !ok {
		return
	}

	h.lifecycle.Disconnect(conn)
	delete(h.clients, client)
	client.closed = true
	close(client.send)

	h.mu.Lock()
	if h.userConns[client.userID]--; h.userConns[client.userID] <= 0 {
		delete(h.userConns, client.userID)
	}
	h.mu.Unlock()

	h.logger.Info("Client unregistered",
		zap.String("userID", client.userID),
		zap.String("connectionID", client.id),
	)
}

func (h *Hub) handleFrame(client *Client, frame []byte) {
	conn, ok := h.clients[client]
	if !ok {
		return
	}

	env, err := protocol.Decode(frame)
	if err != nil {
		h.metrics.RecordDrop(observability.DropMalformed)
		h.send(client, protocol.Error, "invalid message")
		return
	}

	switch env.Type {
	case protocol.JoinRequest:
		h.beginJoin(client, conn, env.Data)
	case protocol.LeaveRequest:
		documentID, ok := protocol.DocumentIDFrom(env.Data)
		if !ok {
			h.send(client, protocol.Error, "documentId is required")
			return
		}
		h.lifecycle.Leave(conn, documentID)
	case protocol.NodeChange:
		h.submit(client, changes.TargetNode, env.Data)
	case protocol.EdgeChange:
		h.submit(client, changes.TargetEdge, env.Data)
	default:
		h.send(client, protocol.Error, "unknown message type")
	}
}

func (h *Hub) beginJoin(client *Client, conn *presence.Connection, data json.RawMessage) {
	documentID, ok := protocol.DocumentIDFrom(data)
	if !ok {
		h.send(client, protocol.Error, "documentId is required")
		return
	}

	ticket, ok := h.lifecycle.BeginJoin(conn, documentID)
	if !ok {
		// Already in this document's session
		if conn.State() == presence.Joined {
			h.confirm(client, documentID, conn)
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
		defer cancel()

		decision := h.lifecycle.Authorize(ctx, ticket)
		select {
		case h.decisions <- joinDecision{client: client, JoinDecision: decision}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) completeJoin(d joinDecision) {
	if _, ok := h.clients[d.client]; !ok {
		// Disconnected while authorizing; the lifecycle discards it.
		h.lifecycle.CompleteJoin(d.JoinDecision)
		return
	}

	switch h.lifecycle.CompleteJoin(d.JoinDecision) {
	case presence.OutcomeAdmitted:
		h.confirm(d.client, d.Ticket.DocumentID, h.clients[d.client])
	case presence.OutcomeDenied:
		if d.Err != nil && !errors.Is(d.Err, permissions.ErrAuthorizationDenied) {
			h.logger.Warn("Join failed",
				zap.Error(d.Err),
				zap.String("connectionID", d.client.id),
				zap.String("documentID", d.Ticket.DocumentID),
			)
		}
		h.send(d.client, protocol.JoinDenied, permissions.DeniedMessage)
	}
}

func (h *Hub) confirm(client *Client, documentID string, conn *presence.Connection) {
	h.send(client, protocol.JoinConfirmed, protocol.JoinResult{
		DocumentID: documentID,
		Level:      string(h.lifecycle.Level(conn)),
	})
}

func (h *Hub) submit(client *Client, target changes.Target, data json.RawMessage) {
	batch, err := h.decoder.Decode(target, data)
	if err != nil {
		h.metrics.RecordDrop(observability.DropMalformed)
		h.reportMalformed(client, err)
		return
	}

	result, err := h.relay.Submit(client.id, batch)
	if err != nil {
		return
	}

	for _, slow := range result.Slow {
		if c, ok := slow.(*Client); ok {
			h.dropSlow(c)
		}
	}
}

// reportMalformed logs the first malformed batch of a connection at Info and
// the rest at Debug.
func (h *Hub) reportMalformed(client *Client, err error) {
	log := h.logger.Debug
	if !client.reportedMalformed {
		client.reportedMalformed = true
		log = h.logger.Info
	}
	log("Dropping malformed batch",
		zap.Error(err),
		zap.String("userID", client.userID),
		zap.String("connectionID", client.id),
	)
}

// dropSlow disconnects a receiver that could not keep up. Its session state
// is torn down immediately; the socket closes when its write pump sees the
// closed send queue.
func (h *Hub) dropSlow(client *Client) {
	h.logger.Warn("Closing slow client",
		zap.String("userID", client.userID),
		zap.String("connectionID", client.id),
	)
	h.unregisterClient(client)
}

func (h *Hub) send(client *Client, eventType protocol.EventType, data interface{}) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	frame, err := protocol.Encode(eventType, data)
	if err != nil {
		h.logger.Error("Failed to encode frame", zap.Error(err), zap.String("type", string(eventType)))
		return
	}
	if !client.Deliver(frame) {
		h.dropSlow(client)
	}
}

// closeAllConnections closes all active connections during shutdown
func (h *Hub) closeAllConnections() {
	for client := range h.clients {
		h.unregisterClient(client)
	}

	// Clients whose registration was still queued have only a write pump.
	for {
		select {
		case client := <-h.register:
			client.closed = true
			close(client.send)
		default:
			h.logger.Info("All connections closed")
			return
		}
	}
}
