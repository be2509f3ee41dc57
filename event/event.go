// Package event defines the change-event envelope and bus publishers.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Mutation subjects. Envelope subjects dispatch synchronization; see the
// stream package.
const (
	SubjectCreate    = "Create/"
	SubjectUpdate    = "Update/"
	SubjectUpsert    = "Upsert/"
	SubjectDelete    = "Delete/"
	SubjectRepublish = "Republish/"
)

// DataVersion is the envelope schema version attached to every event.
const DataVersion = "1.0"

// Event is the envelope published for every completed mutation and consumed
// by the synchronizer.
type Event struct {
	ID          string          `json:"id"`
	DataVersion string          `json:"dataVersion"`
	EventTime   time.Time       `json:"eventTime"`
	Subject     string          `json:"subject"`
	EventType   string          `json:"eventType"`
	Data        json.RawMessage `json:"data"`
}

// New builds an envelope for a mutation of the given type family.
func New(subject, eventType string, data []byte) Event {
	return Event{
		ID:          uuid.NewString(),
		DataVersion: DataVersion,
		EventTime:   time.Now().UTC(),
		Subject:     subject,
		EventType:   eventType,
		Data:        data,
	}
}

// Publisher is the fire-and-forget bus surface. Delivery guarantees belong to
// the bus; implementations must attempt exactly one publish per call and not
// retry failures themselves.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
