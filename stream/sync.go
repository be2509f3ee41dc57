// Package stream replays inbound change events against a repository and
// re-seeds downstream consumers of the event bus.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/stratum/event"
	"github.com/jacentio/stratum/repo"
)

// republishPageSize is the fixed batch size used when draining the store for
// republication.
const republishPageSize = 50

// Repository is the CRUD surface the synchronizer replays against. Satisfied
// by *repo.Repository[T, P].
type Repository[T any, P repo.Doc[T]] interface {
	Create(ctx context.Context, item P, createdBy string, opts *repo.CreateOptions) (P, error)
	Update(ctx context.Context, id string, item P, updatedBy string, opts *repo.UpdateOptions) (P, error)
	Upsert(ctx context.Context, id string, item P, updatedBy string, opts *repo.UpsertOptions) (P, error)
	Delete(ctx context.Context, id string, params map[string]string, opts *repo.DeleteOptions) error
	FindPage(ctx context.Context, q repo.Query, token string, pageSize int) (*repo.Page[P], error)
}

// SyncError pairs a failed event with its error during batch replay.
type SyncError struct {
	Event event.Event
	Err   error
}

func (e SyncError) Error() string {
	return fmt.Sprintf("stratum: sync event %s (%s): %v", e.Event.ID, e.Event.Subject, e.Err)
}

func (e SyncError) Unwrap() error { return e.Err }

// Synchronizer applies ordered change events from another service to the
// local store.
type Synchronizer[T any, P repo.Doc[T]] struct {
	repo      Repository[T, P]
	publisher event.Publisher
	logger    *zap.Logger
	typeTag   string
}

// NewSynchronizer creates a Synchronizer. The publisher may be nil when
// republication is not needed.
func NewSynchronizer[T any, P repo.Doc[T]](r Repository[T, P], publisher event.Publisher, logger *zap.Logger) *Synchronizer[T, P] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer[T, P]{
		repo:      r,
		publisher: publisher,
		logger:    logger,
		typeTag:   P(new(T)).TypeTag(),
	}
}

// Synchronize processes events strictly in input order, dispatching each by
// subject. A failing event is collected with its error and does not block the
// events after it. Unknown subjects are skipped.
func (s *Synchronizer[T, P]) Synchronize(ctx context.Context, events []event.Event) []SyncError {
	var failures []SyncError
	for _, e := range events {
		if err := s.apply(ctx, e); err != nil {
			s.logger.Warn("event failed, continuing batch",
				zap.String("eventID", e.ID),
				zap.String("subject", e.Subject),
				zap.Error(err),
			)
			failures = append(failures, SyncError{Event: e, Err: err})
		}
	}
	return failures
}

func (s *Synchronizer[T, P]) apply(ctx context.Context, e event.Event) error {
	switch e.Subject {
	case event.SubjectCreate:
		item, err := s.decode(e)
		if err != nil {
			return err
		}
		_, err = s.repo.Create(ctx, item, item.DocumentMeta().CreatedBy, nil)
		return err

	case event.SubjectUpdate:
		item, err := s.decode(e)
		if err != nil {
			return err
		}
		_, err = s.repo.Update(ctx, item.DocumentMeta().ID, item, item.DocumentMeta().LastUpdatedBy, nil)
		return err

	case event.SubjectUpsert, event.SubjectRepublish:
		item, err := s.decode(e)
		if err != nil {
			return err
		}
		_, err = s.repo.Upsert(ctx, item.DocumentMeta().ID, item, item.DocumentMeta().LastUpdatedBy, nil)
		return err

	case event.SubjectDelete:
		// Delete events carry either the full record or a bare id string.
		if item, err := s.decode(e); err == nil {
			return s.repo.Delete(ctx, item.DocumentMeta().ID, nil, nil)
		}
		var id string
		if err := json.Unmarshal(e.Data, &id); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		return s.repo.Delete(ctx, id, nil, nil)

	default:
		return nil
	}
}

func (s *Synchronizer[T, P]) decode(e event.Event) (P, error) {
	item := P(new(T))
	if err := json.Unmarshal(e.Data, item); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Subject, err)
	}
	return item, nil
}

// RepublishAll drains the full store in fixed-size batches and publishes a
// "Republish/" envelope for every record, re-seeding downstream consumers.
// A nil publisher makes this a no-op.
func (s *Synchronizer[T, P]) RepublishAll(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}

	token := ""
	for {
		page, err := s.repo.FindPage(ctx, repo.Query{}, token, republishPageSize)
		if err != nil {
			return fmt.Errorf("stratum: republish: %w", err)
		}
		for _, item := range page.Items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("stratum: republish %s: %w", item.DocumentMeta().ID, err)
			}
			if err := s.publisher.Publish(ctx, event.New(event.SubjectRepublish, s.typeTag, data)); err != nil {
				return fmt.Errorf("stratum: republish %s: %w", item.DocumentMeta().ID, err)
			}
		}
		if page.ContinuationToken == "" {
			return nil
		}
		token = page.ContinuationToken
	}
}
