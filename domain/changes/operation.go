// Package changes defines the closed set of structural mutations that
// collaborators exchange while editing a mind map together.
package changes

import (
	"mindsync/domain/mindmap"
)

// Kind is the mutation an operation performs.
type Kind string

const (
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
	KindReplace  Kind = "replace"
	KindPosition Kind = "position"
)

// Target is the entity family an operation applies to.
type Target string

const (
	TargetNode Target = "node"
	TargetEdge Target = "edge"
)

// Operation is one atomic mutation. Exactly the fields required by Kind and
// Target are set:
//
//	add, replace  -> Node (TargetNode) or Edge (TargetEdge)
//	remove        -> ID only
//	position      -> ID and exactly one of Position or Delta (TargetNode only)
type Operation struct {
	Kind     Kind
	Target   Target
	ID       string
	Node     *mindmap.Node
	Edge     *mindmap.Connection
	Position *mindmap.Position
	Delta    *mindmap.Position
}

// AddNode builds an add operation for a node.
func AddNode(n mindmap.Node) Operation {
	return Operation{Kind: KindAdd, Target: TargetNode, ID: n.ID, Node: &n}
}

// AddEdge builds an add operation for a connection.
func AddEdge(c mindmap.Connection) Operation {
	return Operation{Kind: KindAdd, Target: TargetEdge, ID: c.ID, Edge: &c}
}

// Remove builds a remove operation.
func Remove(target Target, id string) Operation {
	return Operation{Kind: KindRemove, Target: target, ID: id}
}

// ReplaceNode builds a replace operation for a node.
func ReplaceNode(n mindmap.Node) Operation {
	return Operation{Kind: KindReplace, Target: TargetNode, ID: n.ID, Node: &n}
}

// ReplaceEdge builds a replace operation for a connection.
func ReplaceEdge(c mindmap.Connection) Operation {
	return Operation{Kind: KindReplace, Target: TargetEdge, ID: c.ID, Edge: &c}
}

// MoveTo builds a position operation carrying the node's new position.
func MoveTo(id string, p mindmap.Position) Operation {
	return Operation{Kind: KindPosition, Target: TargetNode, ID: id, Position: &p}
}

// MoveBy builds a position operation carrying a relative offset.
func MoveBy(id string, delta mindmap.Position) Operation {
	return Operation{Kind: KindPosition, Target: TargetNode, ID: id, Delta: &delta}
}

// Batch is an ordered sequence of operations submitted by one participant in
// one message. Raw holds the changes array exactly as it was received so the
// relay can forward it byte for byte.
type Batch struct {
	DocumentID string
	Target     Target
	Operations []Operation
	Raw        []byte
}
