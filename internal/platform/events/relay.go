package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/clinic/clinic/internal/platform/telemetry"
)

// Writer is the subset of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Source hands out batches of unpublished records. *Outbox implements it.
type Source interface {
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) error) (int, error)
}

type RelayConfig struct {
	TopicPrefix string
	PollEvery   time.Duration
	BatchSize   int
}

// Relay moves outbox rows to Kafka. Delivery is at least once: a crash
// between the write and the commit republishes the batch, and consumers
// dedupe on the event_id header.
type Relay struct {
	source  Source
	writer  Writer
	cfg     RelayConfig
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewRelay(source Source, writer Writer, cfg RelayConfig, logger zerolog.Logger, metrics *telemetry.Metrics) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{source: source, writer: writer, cfg: cfg, logger: logger, metrics: metrics}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Dur("poll_every", r.cfg.PollEvery).Msg("outbox relay started")
	ticker := time.NewTicker(r.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			// Drain the backlog before waiting for the next tick.
			for {
				n, err := r.PublishBatch(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.metrics.OutboxFailure()
						r.logger.Error().Err(err).Msg("outbox publish failed")
					}
					break
				}
				if n < r.cfg.BatchSize {
					break
				}
			}
		}
	}
}

// PublishBatch publishes one batch and returns how many events were sent.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	return r.source.Claim(ctx, r.cfg.BatchSize, func(ctx context.Context, records []Record) error {
		msgs := make([]kafka.Message, 0, len(records))
		for _, rec := range records {
			msgs = append(msgs, r.message(ctx, rec))
		}
		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		for _, rec := range records {
			r.metrics.OutboxPublished(rec.EventType, 1)
		}
		return nil
	})
}

func (r *Relay) message(ctx context.Context, rec Record) kafka.Message {
	msgCtx := ctx
	if rec.Traceparent != "" {
		msgCtx = telemetry.ExtractMap(ctx, map[string]string{
			"traceparent": rec.Traceparent,
			"tracestate":  rec.Tracestate,
		})
	}
	msg := kafka.Message{
		Topic: r.Topic(rec.EventType),
		Key:   []byte(rec.AggregateID.String()),
		Value: rec.Payload,
		Time:  rec.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(rec.EventID.String())},
			{Key: "event_type", Value: []byte(rec.EventType)},
		},
	}
	msg.Headers = InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}

// Topic maps an event type to its topic name.
func (r *Relay) Topic(eventType string) string {
	if r.cfg.TopicPrefix == "" {
		return eventType
	}
	return r.cfg.TopicPrefix + "." + eventType
}
