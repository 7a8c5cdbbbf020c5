// Package audit records booking status transitions and side effects that
// failed without failing the request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Actions recorded in an Entry.
const (
	ActionTransition       = "transition"
	ActionSideEffectFailed = "side_effect_failed"
)

// Entry is one audit record.
type Entry struct {
	BookingID uint64    `json:"booking_id"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Sink accepts audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}

// LogSink writes entries to a logrus logger.  It is used when Kafka is
// disabled or unreachable.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Write(_ context.Context, e Entry) error {
	s.log.WithFields(logrus.Fields{
		"booking_id": e.BookingID,
		"action":     e.Action,
		"from":       e.From,
		"to":         e.To,
		"actor":      e.Actor,
		"reason":     e.Reason,
		"at":         e.At.Format(time.RFC3339),
	}).Info("audit")
	return nil
}

func (s *LogSink) Close() error { return nil }

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries as JSON to a Kafka topic, keyed by booking
// id so all entries of a booking land in one partition in order.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink returns a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(e.BookingID, 10)),
		Value: body,
		Time:  e.At,
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit entry to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }

// Probe dials the first broker and reports whether Kafka is reachable.
// main falls back to a LogSink when it is not.
func Probe(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}
