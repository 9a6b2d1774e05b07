// Package syncclient is a Go client for the live collaboration websocket.
// It keeps a local view of the joined document updated from relayed batches.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mindsync/domain/changes"
	"mindsync/domain/mindmap"
	"mindsync/pkg/protocol"

	"github.com/gorilla/websocket"
)

var (
	// ErrJoinDenied is returned by Join when the server refuses admission.
	ErrJoinDenied = errors.New("join denied")
	// ErrClosed is returned once the connection has gone away.
	ErrClosed = errors.New("connection closed")
)

// Event is one frame received from the server.
type Event struct {
	Type EventType
	Data json.RawMessage
	// Target and Operations are set for relayed batches.
	Target     changes.Target
	Operations []changes.Operation
}

// EventType aliases the wire event names.
type EventType = protocol.EventType

// Client is a single websocket connection. Next must not be called
// concurrently with Join.
type Client struct {
	conn    *websocket.Conn
	decoder *changes.Decoder

	frames  chan []byte
	readErr error
	pending []Event

	writeMu sync.Mutex

	viewMu sync.Mutex
	view   *changes.View

	ConnectionID string
	UserID       string
}

// Dial connects to the sync endpoint at rawURL (ws:// or wss://) with the
// given token and waits for the server's greeting.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Client{
		conn:    conn,
		decoder: changes.NewDecoder(0),
		frames:  make(chan []byte, 256),
		view:    changes.NewView(nil),
	}
	go c.readLoop()

	ev, err := c.await(ctx, protocol.ConnectionEstablished)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var info protocol.ConnectionInfo
	if err := json.Unmarshal(ev.Data, &info); err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid greeting: %w", err)
	}
	c.ConnectionID = info.ConnectionID
	c.UserID = info.UserID
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// Seed replaces the local view, typically with the document loaded over REST
// before joining.
func (c *Client) Seed(doc *mindmap.Document) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.view = changes.NewView(doc)
}

// View returns a copy of the local view.
func (c *Client) View() changes.View {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	return changes.View{
		Nodes: append([]mindmap.Node(nil), c.view.Nodes...),
		Edges: append([]mindmap.Connection(nil), c.view.Edges...),
	}
}

// Join asks to enter documentID's session and waits for the verdict. Frames
// that arrive meanwhile stay queued for Next.
func (c *Client) Join(ctx context.Context, documentID string) (protocol.JoinResult, error) {
	if err := c.write(protocol.JoinRequest, documentID); err != nil {
		return protocol.JoinResult{}, err
	}

	for {
		ev, err := c.receive(ctx)
		if err != nil {
			return protocol.JoinResult{}, err
		}
		switch ev.Type {
		case protocol.JoinConfirmed:
			var result protocol.JoinResult
			if err := json.Unmarshal(ev.Data, &result); err != nil {
				return protocol.JoinResult{}, fmt.Errorf("invalid join-confirmed: %w", err)
			}
			return result, nil
		case protocol.JoinDenied:
			var message string
			_ = json.Unmarshal(ev.Data, &message)
			return protocol.JoinResult{}, fmt.Errorf("%w: %s", ErrJoinDenied, message)
		default:
			c.pending = append(c.pending, ev)
		}
	}
}

// Leave leaves documentID's session. The server does not acknowledge it.
func (c *Client) Leave(documentID string) error {
	return c.write(protocol.LeaveRequest, documentID)
}

// SendNodeChanges submits a node batch. The sender's own view is updated
// locally since the server never echoes a batch back to its sender.
func (c *Client) SendNodeChanges(documentID string, ops ...changes.Operation) error {
	return c.sendChanges(protocol.NodeChange, documentID, ops)
}

// SendEdgeChanges submits an edge batch.
func (c *Client) SendEdgeChanges(documentID string, ops ...changes.Operation) error {
	return c.sendChanges(protocol.EdgeChange, documentID, ops)
}

func (c *Client) sendChanges(eventType protocol.EventType, documentID string, ops []changes.Operation) error {
	payload, err := changes.EncodeBatch(documentID, ops)
	if err != nil {
		return err
	}
	if err := c.write(eventType, json.RawMessage(payload)); err != nil {
		return err
	}

	c.viewMu.Lock()
	c.view.Apply(ops)
	c.viewMu.Unlock()
	return nil
}

// SendRaw writes an arbitrary frame.
func (c *Client) SendRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Next returns the next frame from the server. Relayed batches are applied to
// the local view before they are returned.
func (c *Client) Next(ctx context.Context) (Event, error) {
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		return ev, nil
	}
	return c.receive(ctx)
}

func (c *Client) write(eventType protocol.EventType, data interface{}) error {
	frame, err := protocol.Encode(eventType, data)
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

func (c *Client) await(ctx context.Context, eventType protocol.EventType) (Event, error) {
	for {
		ev, err := c.receive(ctx)
		if err != nil {
			return Event{}, err
		}
		if ev.Type == eventType {
			return ev, nil
		}
		c.pending = append(c.pending, ev)
	}
}

func (c *Client) receive(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case frame, ok := <-c.frames:
		if !ok {
			if c.readErr != nil {
				return Event{}, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
			}
			return Event{}, ErrClosed
		}
		return c.parse(frame)
	}
}

func (c *Client) parse(frame []byte) (Event, error) {
	env, err := protocol.Decode(frame)
	if err != nil {
		return Event{}, fmt.Errorf("invalid frame: %w", err)
	}
	ev := Event{Type: env.Type, Data: env.Data}

	switch env.Type {
	case protocol.NodeChangeBroadcast:
		ev.Target = changes.TargetNode
	case protocol.EdgeChangeBroadcast:
		ev.Target = changes.TargetEdge
	default:
		return ev, nil
	}

	ops, err := c.decoder.DecodeOperations(ev.Target, env.Data)
	if err != nil {
		return ev, err
	}
	ev.Operations = ops

	c.viewMu.Lock()
	c.view.Apply(ops)
	c.viewMu.Unlock()
	return ev, nil
}

// readLoop owns the read side of the connection. readErr is written before
// frames is closed, so receivers observing the close see it.
func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.readErr = err
			}
			return
		}
		c.frames <- frame
	}
}
