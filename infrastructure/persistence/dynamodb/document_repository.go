package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/mindmap"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	mapPrefix        = "MAP#"
	permissionPrefix = "PERM#"
	metadataSK       = "METADATA"
)

// API is the subset of the DynamoDB client used by the repository.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DocumentRepository stores maps in a single table. Each map is a partition
// holding a METADATA item and one PERM#<user> item per collaborator.
type DocumentRepository struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(client API, tableName string, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// mapItem represents the DynamoDB item structure for a map
type mapItem struct {
	PK          string               `dynamodbav:"PK"`
	SK          string               `dynamodbav:"SK"`
	EntityType  string               `dynamodbav:"EntityType"`
	MapID       string               `dynamodbav:"MapID"`
	OwnerID     string               `dynamodbav:"OwnerID"`
	Title       string               `dynamodbav:"Title"`
	Nodes       []mindmap.Node       `dynamodbav:"Nodes"`
	Connections []mindmap.Connection `dynamodbav:"Connections"`
	IsPublic    bool                 `dynamodbav:"IsPublic"`
	ShareID     string               `dynamodbav:"ShareID,omitempty"`
	CreatedAt   string               `dynamodbav:"CreatedAt"`
	UpdatedAt   string               `dynamodbav:"UpdatedAt"`
}

// permissionItem represents a collaborator's access record
type permissionItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	UserID     string `dynamodbav:"UserID"`
	Level      string `dynamodbav:"Level"`
}

func mapKey(documentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: mapPrefix + documentID},
		"SK": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

// LoadAccess reads the whole map partition, projecting only the fields needed
// to authorize a user.
func (r *DocumentRepository) LoadAccess(ctx context.Context, documentID string) (mindmap.Access, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(mapPrefix + documentID))
	proj := expression.NamesList(
		expression.Name("SK"),
		expression.Name("OwnerID"),
		expression.Name("IsPublic"),
		expression.Name("UserID"),
		expression.Name("Level"),
	)

	expr, err := expression.NewBuilder().
		WithKeyCondition(keyEx).
		WithProjection(proj).
		Build()
	if err != nil {
		return mindmap.Access{}, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	access := mindmap.Access{DocumentID: documentID}
	found := false

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mindmap.Access{}, fmt.Errorf("failed to query map access: %w", err)
		}

		for _, item := range page.Items {
			sk, _ := item["SK"].(*types.AttributeValueMemberS)
			if sk == nil {
				continue
			}

			switch {
			case sk.Value == metadataSK:
				var m mapItem
				if err := attributevalue.UnmarshalMap(item, &m); err != nil {
					return mindmap.Access{}, fmt.Errorf("failed to unmarshal map: %w", err)
				}
				access.OwnerID = m.OwnerID
				access.IsPublic = m.IsPublic
				found = true

			case strings.HasPrefix(sk.Value, permissionPrefix):
				var p permissionItem
				if err := attributevalue.UnmarshalMap(item, &p); err != nil {
					r.logger.Warn("Skipping unreadable permission item",
						zap.Error(err),
						zap.String("documentID", documentID),
					)
					continue
				}
				if p.UserID == "" {
					p.UserID = strings.TrimPrefix(sk.Value, permissionPrefix)
				}
				access.Permissions = append(access.Permissions, mindmap.Permission{
					DocumentID: documentID,
					UserID:     p.UserID,
					Level:      mindmap.PermissionLevel(p.Level),
				})
			}
		}
	}

	if !found {
		return mindmap.Access{}, ports.ErrDocumentNotFound
	}
	return access, nil
}

// Get retrieves a map by id
func (r *DocumentRepository) Get(ctx context.Context, documentID string) (*mindmap.Document, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            mapKey(documentID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get map: %w", err)
	}
	if result.Item == nil {
		return nil, ports.ErrDocumentNotFound
	}

	var item mapItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}

	doc := &mindmap.Document{
		ID:          item.MapID,
		OwnerID:     item.OwnerID,
		Title:       item.Title,
		Nodes:       item.Nodes,
		Connections: item.Connections,
		IsPublic:    item.IsPublic,
		ShareID:     item.ShareID,
	}
	if doc.ID == "" {
		doc.ID = documentID
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339, item.CreatedAt)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339, item.UpdatedAt)
	return doc, nil
}

// Save overwrites the structure of an existing map. There is no version
// check; the last save wins.
func (r *DocumentRepository) Save(ctx context.Context, doc *mindmap.Document) error {
	now := time.Now().UTC()

	update := expression.Set(expression.Name("Title"), expression.Value(doc.Title)).
		Set(expression.Name("Nodes"), expression.Value(doc.Nodes)).
		Set(expression.Name("Connections"), expression.Value(doc.Connections)).
		Set(expression.Name("UpdatedAt"), expression.Value(now.Format(time.RFC3339)))
	condition := expression.AttributeExists(expression.Name("PK"))

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(condition).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       mapKey(doc.ID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return ports.ErrDocumentNotFound
		}
		r.logger.Error("Failed to save map to DynamoDB",
			zap.Error(err),
			zap.String("documentID", doc.ID),
		)
		return fmt.Errorf("failed to save map: %w", err)
	}

	doc.UpdatedAt = now
	return nil
}
