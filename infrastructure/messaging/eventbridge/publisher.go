package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mindsync/application/ports"
	"mindsync/domain/events"
	"mindsync/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// EventBridge limits PutEvents to 10 entries per call.
const batchSize = 10

// API is the subset of the EventBridge client used by the publisher.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends presence events to an EventBridge bus. Publish only
// enqueues; Run drains the queue in batches until its context is cancelled.
type Publisher struct {
	client       API
	eventBusName string
	source       string
	queue        chan events.DomainEvent
	logger       *zap.Logger
	metrics      *observability.Collector
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(
	client API,
	eventBusName string,
	source string,
	bufferSize int,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		queue:        make(chan events.DomainEvent, bufferSize),
		logger:       logger,
		metrics:      metrics,
	}
}

var _ ports.PresencePublisher = (*Publisher)(nil)

// Publish enqueues the event, dropping it if the queue is full.
func (p *Publisher) Publish(event events.DomainEvent) {
	select {
	case p.queue <- event:
	default:
		p.metrics.RecordPresenceDropped()
		p.logger.Warn("Presence event dropped, publish queue full",
			zap.String("eventType", event.GetEventType()),
			zap.String("documentID", event.GetAggregateID()),
		)
	}
}

// Run sends queued events until ctx is cancelled, then flushes what is left
// using a short grace period.
func (p *Publisher) Run(ctx context.Context) {
	batch := make([]events.DomainEvent, 0, batchSize)

	for {
		select {
		case <-ctx.Done():
			p.flush(batch)
			return
		case event := <-p.queue:
			batch = append(batch[:0], event)
		drain:
			for len(batch) < batchSize {
				select {
				case event := <-p.queue:
					batch = append(batch, event)
				default:
					break drain
				}
			}
			if err := p.publishBatch(ctx, batch); err != nil {
				p.logger.Error("Failed to publish presence events", zap.Error(err), zap.Int("count", len(batch)))
			}
			batch = batch[:0]
		}
	}
}

func (p *Publisher) flush(pending []events.DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case event := <-p.queue:
			pending = append(pending, event)
			if len(pending) < batchSize {
				continue
			}
		default:
		}

		if len(pending) == 0 {
			return
		}
		if err := p.publishBatch(ctx, pending); err != nil {
			p.logger.Error("Failed to flush presence events", zap.Error(err), zap.Int("count", len(pending)))
			return
		}
		pending = pending[:0]
	}
}

// publishBatch publishes a batch of events (max 10)
func (p *Publisher) publishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(domainEvents))

	for _, event := range domainEvents {
		eventData, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to marshal event",
				zap.Error(err),
				zap.String("eventType", event.GetEventType()),
			)
			continue
		}

		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(eventData)),
			Time:         aws.Time(event.GetTimestamp()),
		})
	}

	if len(entries) == 0 {
		return nil
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for _, entry := range result.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("errorCode", *entry.ErrorCode),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
