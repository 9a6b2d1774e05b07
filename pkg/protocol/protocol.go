// Package protocol defines the websocket frames exchanged between editors
// and the sync server.
package protocol

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType names a frame.
type EventType string

const (
	// Client to server
	JoinRequest  EventType = "join-request"
	LeaveRequest EventType = "leave-request"
	NodeChange   EventType = "node-change"
	EdgeChange   EventType = "edge-change"

	// Server to client
	ConnectionEstablished EventType = "connection-established"
	JoinDenied            EventType = "join-denied"
	JoinConfirmed         EventType = "join-confirmed"
	NodeChangeBroadcast   EventType = "node-change-broadcast"
	EdgeChangeBroadcast   EventType = "edge-change-broadcast"
	Error                 EventType = "error"
)

// Envelope is the JSON shape of every frame.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ConnectionInfo is the payload of connection-established.
type ConnectionInfo struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// JoinResult is the payload of join-confirmed.
type JoinResult struct {
	DocumentID string `json:"documentId"`
	Level      string `json:"level"`
}

// Encode marshals a frame. data may be a json.RawMessage, which must already
// be valid JSON and is embedded byte for byte, or any value encodable as JSON.
func Encode(eventType EventType, data interface{}) ([]byte, error) {
	env := Envelope{Type: eventType, Timestamp: time.Now().Unix()}

	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		return encodeRaw(env, d)
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}

	return json.Marshal(env)
}

// encodeRaw assembles the frame by hand; json.Marshal would compact and
// HTML-escape the embedded payload.
func encodeRaw(env Envelope, data json.RawMessage) ([]byte, error) {
	typ, err := json.Marshal(env.Type)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(data)+len(typ)+48)
	frame = append(frame, `{"type":`...)
	frame = append(frame, typ...)
	frame = append(frame, `,"data":`...)
	frame = append(frame, data...)
	frame = append(frame, `,"timestamp":`...)
	frame = strconv.AppendInt(frame, env.Timestamp, 10)
	frame = append(frame, '}')
	return frame, nil
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}

// DocumentIDFrom reads the document id of a join-request or leave-request.
// The original client sends the bare id string; an object with documentId is
// accepted too.
func DocumentIDFrom(data json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, id != ""
	}
	var obj struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.DocumentID, obj.DocumentID != ""
	}
	return "", false
}
