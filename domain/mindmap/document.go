package mindmap

import (
	"math"
	"time"
)

// Position is the canvas coordinate of a node.
type Position struct {
	X float64 `json:"x" bson:"x" dynamodbav:"x"`
	Y float64 `json:"y" bson:"y" dynamodbav:"y"`
}

// Valid reports whether both coordinates are finite numbers.
func (p Position) Valid() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// Translate returns the position shifted by delta.
func (p Position) Translate(delta Position) Position {
	return Position{X: p.X + delta.X, Y: p.Y + delta.Y}
}

// Size is the optional rendered size of a node.
type Size struct {
	Width  float64 `json:"width" bson:"width" dynamodbav:"width" validate:"gte=0"`
	Height float64 `json:"height" bson:"height" dynamodbav:"height" validate:"gte=0"`
}

// Link is a titled URL attached to a topic.
type Link struct {
	Title string `json:"title" bson:"title" dynamodbav:"title" validate:"required"`
	URL   string `json:"url" bson:"url" dynamodbav:"url" validate:"required"`
}

// Topic is a text unit inside a node. Topics are owned by their node and
// never referenced from anywhere else.
type Topic struct {
	Text  string `json:"text" bson:"text" dynamodbav:"text"`
	Links []Link `json:"links,omitempty" bson:"links" dynamodbav:"links" validate:"dive"`
}

// Node is a positioned card holding an ordered list of topics.
type Node struct {
	ID       string   `json:"id" bson:"id" dynamodbav:"id" validate:"required"`
	Position Position `json:"position" bson:"position" dynamodbav:"position"`
	Size     *Size    `json:"size,omitempty" bson:"size,omitempty" dynamodbav:"size,omitempty"`
	Topics   []Topic  `json:"topics,omitempty" bson:"topics" dynamodbav:"topics" validate:"dive"`
}

// Connection is a directed edge between two nodes of the same document.
// Endpoint integrity is not enforced; a connection may briefly reference a
// node that a concurrent batch removed.
type Connection struct {
	ID     string `json:"id" bson:"id" dynamodbav:"id" validate:"required"`
	Source string `json:"source" bson:"source" dynamodbav:"source" validate:"required"`
	Target string `json:"target" bson:"target" dynamodbav:"target" validate:"required"`
}

// Document is a persisted mind map.
type Document struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"ownerId"`
	Title       string       `json:"title"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	IsPublic    bool         `json:"isPublic"`
	ShareID     string       `json:"shareId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// DefaultTitle is used when a document is saved without a title.
const DefaultTitle = "Mapa Mental Sem Título"

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
