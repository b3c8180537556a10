package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type recordingPublisher struct {
	events []*kafka.Event
	err    error
}

func (p *recordingPublisher) PublishEvents(_ context.Context, events ...*kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

var scope = models.Scope{TenantID: "tenant-1", DatasetID: "bank"}

func newEmitter(p Publisher) *Emitter {
	return NewEmitter(p, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestEmitter_MatchCreated(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := newEmitter(pub)

	m1 := &models.ReconciliationMatch{ID: "m1", Items1: []string{"a1"}, Items2: []string{"b1"}, Method: models.MatchMethodAuto}
	m2 := &models.ReconciliationMatch{ID: "m2", Items1: []string{"a2"}, Items2: []string{"b2"}, Method: models.MatchMethodAuto}
	require.NoError(t, emitter.EmitMatchCreated(context.Background(), scope, m1, m2))

	require.Len(t, pub.events, 2)
	assert.Equal(t, TypeMatchCreated, pub.events[0].EventType)
	assert.Equal(t, "m1", pub.events[0].EntityID)
	assert.Equal(t, "bank", pub.events[1].DatasetID)

	var decoded models.ReconciliationMatch
	require.NoError(t, json.Unmarshal(pub.events[1].Data, &decoded))
	assert.Equal(t, []string{"b2"}, decoded.Items2)
}

func TestEmitter_RunCompleted(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := newEmitter(pub)

	result := &models.RunResult{RunID: "run-1", Stats: models.RunStats{Added: 3}, InvalidatedCandidateIDs: []string{"cand_x"}}
	require.NoError(t, emitter.EmitRunCompleted(context.Background(), scope, result))

	require.Len(t, pub.events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(pub.events[0].Data, &payload))
	assert.Equal(t, "run-1", payload["run_id"])
	assert.Equal(t, float64(3), payload["stats"].(map[string]any)["added"])
}

func TestEmitter_PublishFailure(t *testing.T) {
	emitter := newEmitter(&recordingPublisher{err: errors.New("broker down")})
	err := emitter.EmitCandidateRejected(context.Background(), scope, &models.Rejection{CandidateID: "cand_1"})
	assert.EqualError(t, err, "broker down")
}

func TestEmitter_NilPublisherIsNoop(t *testing.T) {
	emitter := newEmitter(nil)
	assert.NoError(t, emitter.EmitMatchRemoved(context.Background(), scope, &models.ReconciliationMatch{ID: "m1"}, nil))
}
