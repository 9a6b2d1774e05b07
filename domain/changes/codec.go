package changes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"mindsync/domain/mindmap"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedBatch is returned for payloads that fail structural validation.
var ErrMalformedBatch = errors.New("malformed change batch")

// DefaultMaxOperations bounds the size of a single batch.
const DefaultMaxOperations = 500

type wireBatch struct {
	DocumentID string          `json:"documentId" validate:"required"`
	Changes    json.RawMessage `json:"changes"`
}

type wireOperation struct {
	Type     Kind              `json:"type" validate:"required,oneof=add remove replace position"`
	ID       string            `json:"id,omitempty"`
	Item     json.RawMessage   `json:"item,omitempty"`
	Position *mindmap.Position `json:"position,omitempty"`
	Delta    *mindmap.Position `json:"delta,omitempty"`
}

// Decoder validates inbound change payloads at the transport boundary.
type Decoder struct {
	validate *validator.Validate
	maxOps   int
}

// NewDecoder creates a decoder accepting at most maxOps operations per batch.
func NewDecoder(maxOps int) *Decoder {
	if maxOps <= 0 {
		maxOps = DefaultMaxOperations
	}
	return &Decoder{validate: validator.New(), maxOps: maxOps}
}

// Decode parses a node-change or edge-change payload
// ({"documentId": ..., "changes": [...]}) into a Batch.
func (d *Decoder) Decode(target Target, payload []byte) (Batch, error) {
	if target != TargetNode && target != TargetEdge {
		return Batch{}, fmt.Errorf("%w: unknown target %q", ErrMalformedBatch, target)
	}

	var wb wireBatch
	if err := json.Unmarshal(payload, &wb); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if err := d.validate.Struct(wb); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	ops, err := d.DecodeOperations(target, wb.Changes)
	if err != nil {
		return Batch{}, err
	}

	return Batch{
		DocumentID: wb.DocumentID,
		Target:     target,
		Operations: ops,
		Raw:        bytes.Clone(wb.Changes),
	}, nil
}

// DecodeOperations parses a bare changes array, as carried by broadcasts.
func (d *Decoder) DecodeOperations(target Target, raw []byte) ([]Operation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: changes must be an array", ErrMalformedBatch)
	}

	var wire []wireOperation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	if len(wire) > d.maxOps {
		return nil, fmt.Errorf("%w: %d operations exceeds limit of %d", ErrMalformedBatch, len(wire), d.maxOps)
	}

	ops := make([]Operation, 0, len(wire))
	for i, w := range wire {
		op, err := d.decodeOperation(target, w)
		if err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", ErrMalformedBatch, i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (d *Decoder) decodeOperation(target Target, w wireOperation) (Operation, error) {
	if err := d.validate.Struct(w); err != nil {
		return Operation{}, err
	}

	op := Operation{Kind: w.Type, Target: target, ID: w.ID}

	switch w.Type {
	case KindRemove:
		if op.ID == "" {
			return Operation{}, errors.New("remove requires id")
		}

	case KindAdd, KindReplace:
		if len(w.Item) == 0 || bytes.Equal(w.Item, []byte("null")) {
			return Operation{}, fmt.Errorf("%s requires item", w.Type)
		}
		if err := d.decodeItem(&op, w.Item); err != nil {
			return Operation{}, err
		}

	case KindPosition:
		if target != TargetNode {
			return Operation{}, errors.New("position applies to nodes only")
		}
		if op.ID == "" {
			return Operation{}, errors.New("position requires id")
		}
		if (w.Position == nil) == (w.Delta == nil) {
			return Operation{}, errors.New("position requires exactly one of position or delta")
		}
		if (w.Position != nil && !w.Position.Valid()) || (w.Delta != nil && !w.Delta.Valid()) {
			return Operation{}, errors.New("coordinates must be finite")
		}
		op.Position = w.Position
		op.Delta = w.Delta
	}

	return op, nil
}

// decodeItem fills the node or edge of an add/replace. An item without an id
// inherits the operation id; conflicting ids are rejected.
func (d *Decoder) decodeItem(op *Operation, item json.RawMessage) error {
	var itemID *string

	switch op.Target {
	case TargetNode:
		var n mindmap.Node
		if err := json.Unmarshal(item, &n); err != nil {
			return err
		}
		op.Node = &n
		itemID = &n.ID
	case TargetEdge:
		var c mindmap.Connection
		if err := json.Unmarshal(item, &c); err != nil {
			return err
		}
		op.Edge = &c
		itemID = &c.ID
	}

	switch {
	case *itemID == "":
		*itemID = op.ID
	case op.ID == "":
		op.ID = *itemID
	case op.ID != *itemID:
		return fmt.Errorf("item id %q does not match operation id %q", *itemID, op.ID)
	}

	if op.Node != nil {
		if !op.Node.Position.Valid() {
			return errors.New("coordinates must be finite")
		}
		return d.validate.Struct(op.Node)
	}
	return d.validate.Struct(op.Edge)
}

// EncodeOperations renders operations in wire form.
func EncodeOperations(ops []Operation) (json.RawMessage, error) {
	wire := make([]wireOperation, 0, len(ops))
	for _, op := range ops {
		w := wireOperation{Type: op.Kind, Position: op.Position, Delta: op.Delta}
		if op.Kind != KindAdd {
			w.ID = op.ID
		}
		var item interface{}
		switch {
		case op.Node != nil:
			item = op.Node
		case op.Edge != nil:
			item = op.Edge
		}
		if item != nil {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			w.Item = raw
		}
		wire = append(wire, w)
	}
	return json.Marshal(wire)
}

// EncodeBatch renders a full node-change or edge-change payload.
func EncodeBatch(documentID string, ops []Operation) ([]byte, error) {
	raw, err := EncodeOperations(ops)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireBatch{DocumentID: documentID, Changes: raw})
}
