// Package relay fans change batches out to the other participants of a
// document's live session.
package relay

import (
	"encoding/json"
	"errors"

	"mindsync/application/session"
	"mindsync/domain/changes"
	"mindsync/pkg/observability"
	"mindsync/pkg/protocol"

	"go.uber.org/zap"
)

// ErrNotMember is returned when the sender is not, or no longer, a member of
// the session named by the batch.
var ErrNotMember = errors.New("sender is not a member of the session")

// Result reports how a batch was delivered.
type Result struct {
	Delivered int
	// Slow lists receivers whose outbound queue was full. The caller is
	// expected to disconnect them.
	Slow []session.Conn
}

// Relay forwards accepted batches. It never transforms, reorders, or persists
// them; conflicting edits resolve last-writer-wins at each client.
type Relay struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  *observability.Collector
}

// New creates a relay over the given registry.
func New(registry *session.Registry, logger *zap.Logger, metrics *observability.Collector) *Relay {
	return &Relay{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Submit relays batch from senderConnID to every other current member of the
// document's session. The frame is encoded once and carries the changes array
// exactly as received.
func (r *Relay) Submit(senderConnID string, batch changes.Batch) (Result, error) {
	if _, ok := r.registry.Member(batch.DocumentID, senderConnID); !ok {
		r.metrics.RecordDrop(observability.DropStale)
		r.logger.Debug("Dropping batch from non-member",
			zap.String("connectionID", senderConnID),
			zap.String("documentID", batch.DocumentID),
		)
		return Result{}, ErrNotMember
	}

	frame, err := protocol.Encode(broadcastType(batch.Target), rawChanges(batch.Raw))
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, p := range r.registry.BroadcastTargets(batch.DocumentID, senderConnID) {
		if p.Conn.Deliver(frame) {
			result.Delivered++
			continue
		}
		result.Slow = append(result.Slow, p.Conn)
	}

	r.metrics.RecordRelay(string(batch.Target), len(result.Slow))
	if len(result.Slow) > 0 {
		r.logger.Warn("Receivers could not keep up",
			zap.String("documentID", batch.DocumentID),
			zap.Int("slow", len(result.Slow)),
		)
	}
	return result, nil
}

func broadcastType(target changes.Target) protocol.EventType {
	if target == changes.TargetEdge {
		return protocol.EdgeChangeBroadcast
	}
	return protocol.NodeChangeBroadcast
}

func rawChanges(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
