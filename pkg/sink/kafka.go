// Package sink forwards registry events to external brokers. Each publisher
// is a session.Handler and is normally wrapped in session.NewAsync so a slow
// broker never stalls the tick path.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

const defaultWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every event as a JSON wire.Event. Order and session events
// are keyed by session id, market events by symbol, so per-key ordering
// matches registry ordering.
type Kafka struct {
	w       messageWriter
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewKafka(brokers []string, topic string, batchTimeout time.Duration, log *zap.SugaredLogger) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
	}, log)
}

func newKafka(w messageWriter, log *zap.SugaredLogger) *Kafka {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Kafka{w: w, timeout: defaultWriteTimeout, log: log}
}

func (k *Kafka) Handle(ev session.Event) error {
	w := wire.FromEvent(ev)
	value, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(w)),
		Value: value,
		Time:  w.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(w.Kind)},
			{Key: "channel", Value: []byte(w.Channel())},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		k.log.Warnw("kafka_publish_failed", "seq", ev.Seq, "kind", w.Kind, "err", err)
		return err
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

func messageKey(e wire.Event) string {
	if e.SessionID != "" {
		return e.SessionID
	}
	if e.Session != nil {
		return e.Session.ID
	}
	return e.Symbol()
}
