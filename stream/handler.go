package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jacentio/stratum/event"
	"github.com/jacentio/stratum/repo"
)

// Handler adapts inbound bus deliveries to the synchronizer. It is designed
// to be used as an AWS Lambda handler for EventBridge-routed events.
type Handler[T any, P repo.Doc[T]] struct {
	sync   *Synchronizer[T, P]
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler[T any, P repo.Doc[T]](s *Synchronizer[T, P], logger *zap.Logger) *Handler[T, P] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler[T, P]{sync: s, logger: logger}
}

// HandleEvent processes a single bus delivery. A replay failure is returned
// so the platform retries and eventually dead-letters the delivery.
func (h *Handler[T, P]) HandleEvent(ctx context.Context, e events.CloudWatchEvent) error {
	var envelope event.Event
	if err := json.Unmarshal(e.Detail, &envelope); err != nil {
		return fmt.Errorf("stratum: decode event %s: %w", e.ID, err)
	}
	if envelope.Subject == "" {
		envelope.Subject = e.DetailType
	}

	h.logger.Info("replaying event",
		zap.String("eventID", envelope.ID),
		zap.String("subject", envelope.Subject),
	)

	failures := h.sync.Synchronize(ctx, []event.Event{envelope})
	if len(failures) > 0 {
		return failures[0]
	}
	return nil
}
