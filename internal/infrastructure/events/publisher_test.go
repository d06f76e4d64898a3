package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_PublishScored(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "match-events", zap.NewNop())

	s := match.MustScore(77.5)
	rec := match.Record{
		ID:            uuid.New(),
		JobID:         uuid.New(),
		ResumeID:      uuid.New(),
		UserID:        uuid.New(),
		OverallScore:  &s,
		IsRecommended: true,
	}

	require.NoError(t, p.Publish(context.Background(), Scored(rec)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, rec.ID.String(), string(msg.Key))
	assert.Equal(t, TypeMatchScored, header(msg, "event_type"))
	_, err := uuid.Parse(header(msg, "event_id"))
	assert.NoError(t, err)
	assert.NotEmpty(t, header(msg, "timestamp"))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, rec.ID, got.MatchID)
	require.NotNil(t, got.OverallScore)
	assert.Equal(t, 77.5, *got.OverallScore)
	assert.True(t, got.IsRecommended)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishDeletedUnscored(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "match-events", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), Deleted(match.Record{ID: uuid.New()})))
	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, TypeMatchDeleted, got.Type)
	assert.Nil(t, got.OverallScore)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, "match-events", zap.NewNop())

	err := p.Publish(context.Background(), Deleted(match.Record{ID: uuid.New()}))
	assert.ErrorContains(t, err, "broker down")
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}

func TestScored_CarriesDegradedMarker(t *testing.T) {
	rec := match.Record{ID: uuid.New(), Degraded: true}
	assert.True(t, Scored(rec).Degraded)
	assert.False(t, Deleted(rec).Degraded)
}
