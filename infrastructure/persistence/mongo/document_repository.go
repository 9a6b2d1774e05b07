// Package mongo reads and saves maps in the collections of the web
// application: "maps" and "permissions".
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	mapsCollection        = "maps"
	permissionsCollection = "permissions"
)

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// DocumentRepository implements ports.DocumentRepository over MongoDB.
type DocumentRepository struct {
	maps        *mongo.Collection
	permissions *mongo.Collection
	logger      *zap.Logger
}

// NewDocumentRepository creates a repository on the given database.
func NewDocumentRepository(db *mongo.Database, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		maps:        db.Collection(mapsCollection),
		permissions: db.Collection(permissionsCollection),
		logger:      logger,
	}
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// mapRecord is a map as stored by the web application. Node geometry is kept
// as CSS lengths ("120px").
type mapRecord struct {
	ID          interface{}        `bson:"_id"`
	User        interface{}        `bson:"user"`
	Title       string             `bson:"title"`
	Nodes       []nodeRecord       `bson:"nodes"`
	Connections []connectionRecord `bson:"connections"`
	IsPublic    bool               `bson:"isPublic"`
	ShareID     string             `bson:"shareId,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty"`
}

type nodeRecord struct {
	ID     string          `bson:"id"`
	Left   string          `bson:"left"`
	Top    string          `bson:"top"`
	Width  string          `bson:"width,omitempty"`
	Height string          `bson:"height,omitempty"`
	Topics []mindmap.Topic `bson:"topics"`
}

type connectionRecord struct {
	ID     string `bson:"id"`
	Source string `bson:"source"`
	Target string `bson:"target"`
}

type permissionRecord struct {
	Map             interface{} `bson:"map"`
	User            interface{} `bson:"user"`
	PermissionLevel string      `bson:"permissionLevel"`
}

// documentKey returns the _id filter value: an ObjectID when the id is one,
// the raw string otherwise.
func documentKey(id string) interface{} {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// LoadAccess implements ports.AccessReader.
func (r *DocumentRepository) LoadAccess(ctx context.Context, documentID string) (mindmap.Access, error) {
	key := documentKey(documentID)

	var m struct {
		User     interface{} `bson:"user"`
		IsPublic bool        `bson:"isPublic"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "user", Value: 1}, {Key: "isPublic", Value: 1}})
	if err := r.maps.FindOne(ctx, bson.D{{Key: "_id", Value: key}}, opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mindmap.Access{}, ports.ErrDocumentNotFound
		}
		return mindmap.Access{}, fmt.Errorf("failed to load map: %w", err)
	}

	cursor, err := r.permissions.Find(ctx, bson.D{{Key: "map", Value: key}})
	if err != nil {
		return mindmap.Access{}, fmt.Errorf("failed to query permissions: %w", err)
	}
	var records []permissionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return mindmap.Access{}, fmt.Errorf("failed to decode permissions: %w", err)
	}

	access := mindmap.Access{
		DocumentID:  documentID,
		OwnerID:     idString(m.User),
		IsPublic:    m.IsPublic,
		Permissions: make([]mindmap.Permission, 0, len(records)),
	}
	for _, p := range records {
		access.Permissions = append(access.Permissions, mindmap.Permission{
			DocumentID: documentID,
			UserID:     idString(p.User),
			Level:      mindmap.PermissionLevel(p.PermissionLevel),
		})
	}
	return access, nil
}

// Get implements ports.DocumentRepository.
func (r *DocumentRepository) Get(ctx context.Context, documentID string) (*mindmap.Document, error) {
	var rec mapRecord
	if err := r.maps.FindOne(ctx, bson.D{{Key: "_id", Value: documentKey(documentID)}}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ports.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load map: %w", err)
	}
	return toDocument(rec), nil
}

// Save overwrites the title and structure of an existing map.
func (r *DocumentRepository) Save(ctx context.Context, doc *mindmap.Document) error {
	now := time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "title", Value: doc.Title},
		{Key: "nodes", Value: fromNodes(doc.Nodes)},
		{Key: "connections", Value: fromConnections(doc.Connections)},
		{Key: "updatedAt", Value: now},
	}}}

	result, err := r.maps.UpdateOne(ctx, bson.D{{Key: "_id", Value: documentKey(doc.ID)}}, update)
	if err != nil {
		r.logger.Error("Failed to save map to MongoDB",
			zap.Error(err),
			zap.String("documentID", doc.ID),
		)
		return fmt.Errorf("failed to save map: %w", err)
	}
	if result.MatchedCount == 0 {
		return ports.ErrDocumentNotFound
	}

	doc.UpdatedAt = now
	return nil
}

func toDocument(rec mapRecord) *mindmap.Document {
	doc := &mindmap.Document{
		ID:          idString(rec.ID),
		OwnerID:     idString(rec.User),
		Title:       rec.Title,
		Nodes:       make([]mindmap.Node, 0, len(rec.Nodes)),
		Connections: make([]mindmap.Connection, 0, len(rec.Connections)),
		IsPublic:    rec.IsPublic,
		ShareID:     rec.ShareID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	for _, n := range rec.Nodes {
		node := mindmap.Node{
			ID:       n.ID,
			Position: mindmap.Position{X: parseLength(n.Left), Y: parseLength(n.Top)},
			Topics:   n.Topics,
		}
		if n.Width != "" || n.Height != "" {
			node.Size = &mindmap.Size{Width: parseLength(n.Width), Height: parseLength(n.Height)}
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	for _, c := range rec.Connections {
		doc.Connections = append(doc.Connections, mindmap.Connection{ID: c.ID, Source: c.Source, Target: c.Target})
	}
	return doc
}

func fromNodes(nodes []mindmap.Node) []nodeRecord {
	out := make([]nodeRecord, 0, len(nodes))
	for _, n := range nodes {
		rec := nodeRecord{
			ID:     n.ID,
			Left:   formatLength(n.Position.X),
			Top:    formatLength(n.Position.Y),
			Topics: n.Topics,
		}
		if rec.Topics == nil {
			rec.Topics = []mindmap.Topic{}
		}
		if n.Size != nil {
			rec.Width = formatLength(n.Size.Width)
			rec.Height = formatLength(n.Size.Height)
		}
		out = append(out, rec)
	}
	return out
}

func fromConnections(conns []mindmap.Connection) []connectionRecord {
	out := make([]connectionRecord, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionRecord(c))
	}
	return out
}

// parseLength reads a CSS pixel length such as "120px". Unparseable values
// read as zero.
func parseLength(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatLength(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + "px"
}
