package mongo

import (
	"testing"

	"mindsync/domain/mindmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDocumentKey(t *testing.T) {
	oid := bson.NewObjectID()

	assert.Equal(t, oid, documentKey(oid.Hex()))
	assert.Equal(t, "legacy-id", documentKey("legacy-id"))
	assert.Equal(t, oid.Hex(), idString(oid))
	assert.Equal(t, "", idString(nil))
}

func TestRecordConversion(t *testing.T) {
	owner := bson.NewObjectID()
	rec := mapRecord{
		ID:    "m1",
		User:  owner,
		Title: "Plan",
		Nodes: []nodeRecord{
			{ID: "n1", Left: "120px", Top: " 40.5px", Topics: []mindmap.Topic{{Text: "root"}}},
			{ID: "n2", Left: "bogus", Top: "0", Width: "200px", Height: "80px"},
		},
		Connections: []connectionRecord{{ID: "e1", Source: "n1", Target: "n2"}},
	}

	doc := toDocument(rec)

	assert.Equal(t, "m1", doc.ID)
	assert.Equal(t, owner.Hex(), doc.OwnerID)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, mindmap.Position{X: 120, Y: 40.5}, doc.Nodes[0].Position)
	assert.Nil(t, doc.Nodes[0].Size)
	assert.Equal(t, mindmap.Position{}, doc.Nodes[1].Position)
	assert.Equal(t, &mindmap.Size{Width: 200, Height: 80}, doc.Nodes[1].Size)
	assert.Equal(t, []mindmap.Connection{{ID: "e1", Source: "n1", Target: "n2"}}, doc.Connections)

	back := fromNodes(doc.Nodes)
	assert.Equal(t, "120px", back[0].Left)
	assert.Equal(t, "40.5px", back[0].Top)
	assert.Equal(t, "200px", back[1].Width)
	assert.NotNil(t, back[1].Topics)
}
