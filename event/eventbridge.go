package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// EventBridgeAPI is the bus-client surface the publisher needs. Satisfied by
// *eventbridge.Client.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge publishes envelopes to an EventBridge bus. The envelope subject
// becomes the detail type; the full envelope travels as the detail payload.
type EventBridge struct {
	client EventBridgeAPI
	bus    string
	source string
	logger *zap.Logger
}

// NewEventBridge creates a publisher for the named bus.
func NewEventBridge(client EventBridgeAPI, bus, source string, logger *zap.Logger) *EventBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBridge{
		client: client,
		bus:    bus,
		source: source,
		logger: logger,
	}
}

// Publish implements Publisher.
func (p *EventBridge) Publish(ctx context.Context, e Event) error {
	detail, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("stratum: marshal event %s: %w", e.ID, err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.bus),
				Source:       aws.String(p.source),
				DetailType:   aws.String(e.Subject),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(e.EventTime),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("stratum: put event %s: %w", e.ID, err)
	}
	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		p.logger.Warn("event entry rejected",
			zap.String("eventID", e.ID),
			zap.Stringp("code", entry.ErrorCode),
			zap.Stringp("message", entry.ErrorMessage),
		)
		return fmt.Errorf("stratum: event %s rejected: %s", e.ID, aws.ToString(entry.ErrorCode))
	}
	return nil
}
