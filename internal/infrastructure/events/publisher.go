package events

import (
	"context"
	"encoding/json"
	"time"

	"match-service/internal/config"
	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TypeMatchScored  = "match.scored"
	TypeMatchDeleted = "match.deleted"
)

// Event is the payload written to the match events topic.
type Event struct {
	Type          string    `json:"type"`
	MatchID       uuid.UUID `json:"match_id"`
	JobID         uuid.UUID `json:"job_id"`
	ResumeID      uuid.UUID `json:"resume_id"`
	UserID        uuid.UUID `json:"user_id"`
	OverallScore  *float64  `json:"overall_score,omitempty"`
	IsRecommended bool      `json:"is_recommended"`
	Degraded      bool      `json:"degraded,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func Scored(rec match.Record) Event {
	e := fromRecord(TypeMatchScored, rec)
	e.Degraded = rec.Degraded
	return e
}

func Deleted(rec match.Record) Event {
	return fromRecord(TypeMatchDeleted, rec)
}

func fromRecord(typ string, rec match.Record) Event {
	e := Event{
		Type:          typ,
		MatchID:       rec.ID,
		JobID:         rec.JobID,
		ResumeID:      rec.ResumeID,
		UserID:        rec.UserID,
		IsRecommended: rec.IsRecommended,
		OccurredAt:    time.Now().UTC(),
	}
	if rec.OverallScore != nil {
		v := rec.OverallScore.Float64()
		e.OverallScore = &v
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher returns an asynchronous publisher: Publish only enqueues,
// and delivery failures are logged from the writer's completion callback.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Warn("[Events] delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
		},
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	p.logger.Debug("[Events] published",
		zap.String("topic", p.topic),
		zap.String("type", e.Type),
		zap.String("match_id", e.MatchID.String()),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "encode event")
	}
	return kafka.Message{
		Key:   []byte(e.MatchID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.New().String())},
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "timestamp", Value: []byte(e.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
