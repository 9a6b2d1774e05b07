package changes

import (
	"mindsync/domain/mindmap"
)

// View is a participant's local copy of a document's structure. Relayed
// batches are applied to it as they arrive; nothing reconciles it with the
// persisted document until the participant saves.
type View struct {
	Nodes []mindmap.Node
	Edges []mindmap.Connection
}

// NewView seeds a view from a loaded document.
func NewView(doc *mindmap.Document) *View {
	v := &View{}
	if doc != nil {
		v.Nodes = append(v.Nodes, doc.Nodes...)
		v.Edges = append(v.Edges, doc.Connections...)
	}
	return v
}

// Apply applies each operation of the batch in order.
func (v *View) Apply(ops []Operation) {
	for _, op := range ops {
		v.ApplyOperation(op)
	}
}

// ApplyOperation applies a single operation. Every kind is idempotent except
// position deltas: removing or replacing an absent id is a no-op, and adding
// an existing id overwrites it in place.
func (v *View) ApplyOperation(op Operation) {
	switch op.Target {
	case TargetNode:
		v.applyNode(op)
	case TargetEdge:
		v.applyEdge(op)
	}
}

func (v *View) applyNode(op Operation) {
	i := v.nodeIndex(op.ID)

	switch op.Kind {
	case KindAdd:
		if op.Node == nil {
			return
		}
		if i >= 0 {
			v.Nodes[i] = *op.Node
			return
		}
		v.Nodes = append(v.Nodes, *op.Node)

	case KindRemove:
		if i >= 0 {
			v.Nodes = append(v.Nodes[:i], v.Nodes[i+1:]...)
		}

	case KindReplace:
		if i >= 0 && op.Node != nil {
			v.Nodes[i] = *op.Node
		}

	case KindPosition:
		if i < 0 {
			return
		}
		switch {
		case op.Position != nil:
			v.Nodes[i].Position = *op.Position
		case op.Delta != nil:
			v.Nodes[i].Position = v.Nodes[i].Position.Translate(*op.Delta)
		}
	}
}

func (v *View) applyEdge(op Operation) {
	i := v.edgeIndex(op.ID)

	switch op.Kind {
	case KindAdd:
		if op.Edge == nil {
			return
		}
		if i >= 0 {
			v.Edges[i] = *op.Edge
			return
		}
		v.Edges = append(v.Edges, *op.Edge)

	case KindRemove:
		if i >= 0 {
			v.Edges = append(v.Edges[:i], v.Edges[i+1:]...)
		}

	case KindReplace:
		if i >= 0 && op.Edge != nil {
			v.Edges[i] = *op.Edge
		}
	}
}

// Node returns the node with the given id.
func (v *View) Node(id string) (mindmap.Node, bool) {
	if i := v.nodeIndex(id); i >= 0 {
		return v.Nodes[i], true
	}
	return mindmap.Node{}, false
}

// Edge returns the connection with the given id.
func (v *View) Edge(id string) (mindmap.Connection, bool) {
	if i := v.edgeIndex(id); i >= 0 {
		return v.Edges[i], true
	}
	return mindmap.Connection{}, false
}

func (v *View) nodeIndex(id string) int {
	for i := range v.Nodes {
		if v.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *View) edgeIndex(id string) int {
	for i := range v.Edges {
		if v.Edges[i].ID == id {
			return i
		}
	}
	return -1
}
