// Package events publishes reconciliation lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TypeMatchCreated      = "match.created"
	TypeMatchRemoved      = "match.removed"
	TypeCandidateRejected = "candidate.rejected"
	TypeRunCompleted      = "run.completed"
)

// Publisher delivers events to a sink
type Publisher interface {
	PublishEvents(ctx context.Context, events ...*kafka.Event) error
}

// NoopPublisher drops every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishEvents(_ context.Context, _ ...*kafka.Event) error {
	return nil
}

// Emitter turns state changes into events. Publish failures are logged and returned; the state change itself
// is already committed when an event is emitted.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) emit(ctx context.Context, scope models.Scope, eventType, entityID string, data any) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	event := &kafka.Event{
		EventType: eventType,
		TenantID:  scope.TenantID,
		DatasetID: scope.DatasetID,
		EntityID:  entityID,
		Data:      payload,
	}

	if err := e.publisher.PublishEvents(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}

// EmitMatchCreated emits a match.created event for every new match
func (e *Emitter) EmitMatchCreated(ctx context.Context, scope models.Scope, matches ...*models.ReconciliationMatch) error {
	for _, m := range matches {
		if err := e.emit(ctx, scope, TypeMatchCreated, m.ID, m); err != nil {
			return err
		}
	}
	return nil
}

// EmitMatchRemoved emits a match.removed event
func (e *Emitter) EmitMatchRemoved(ctx context.Context, scope models.Scope, match *models.ReconciliationMatch, reason *string) error {
	return e.emit(ctx, scope, TypeMatchRemoved, match.ID, map[string]any{
		"match_id": match.ID,
		"items_1":  match.Items1,
		"items_2":  match.Items2,
		"reason":   reason,
	})
}

// EmitCandidateRejected emits a candidate.rejected event
func (e *Emitter) EmitCandidateRejected(ctx context.Context, scope models.Scope, rejection *models.Rejection) error {
	return e.emit(ctx, scope, TypeCandidateRejected, rejection.CandidateID, rejection)
}

// EmitRunCompleted emits a run.completed event with the run stats
func (e *Emitter) EmitRunCompleted(ctx context.Context, scope models.Scope, result *models.RunResult) error {
	return e.emit(ctx, scope, TypeRunCompleted, result.RunID, map[string]any{
		"run_id":                    result.RunID,
		"stats":                     result.Stats,
		"pending":                   len(result.Candidates),
		"invalidated_candidate_ids": result.InvalidatedCandidateIDs,
		"auto_matched_match_ids":    result.AutoMatched,
		"duration_ms":               result.Duration.Milliseconds(),
	})
}
