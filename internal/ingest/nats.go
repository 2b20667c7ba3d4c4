package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"klaxer/internal/config"
	"klaxer/internal/permanent"

	"github.com/nats-io/nats.go"
)

// NATSSubscriber consumes alerts via a JetStream queue consumer and runs
// them through the pipeline. The originating service is the last subject
// token (klaxer.alerts.<service>); the broker is a trusted producer, so no
// per-service token check applies on this path.
// Params: NATS connection, JetStream queue subscription, and processor.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates the JetStream queue consumer for alert ingestion.
// Permanent failures (bad payload, unknown service, routing gap) are acked
// so the broker never redelivers them; delivery failures are nacked with a
// delay and retried by the broker — the poster itself never retries.
// Params: ingest NATS config, processor, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, processor AlertProcessor, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		service := subjectService(message.Subject)
		if service == "" {
			if logger != nil {
				logger.Warn("nats ingest subject has no service token", "subject", message.Subject)
			}
			subscriber.ackMessage(message, "bad-subject")
			return
		}

		_, processErr := processor.Process(context.Background(), service, message.Data)
		if processErr == nil {
			subscriber.ackMessage(message, "processed")
			return
		}
		if permanent.Is(processErr) {
			if logger != nil {
				logger.Warn("nats ingest rejected alert", "subject", message.Subject, "error", processErr.Error())
			}
			subscriber.ackMessage(message, "permanent")
			return
		}
		if logger != nil {
			logger.Error("nats ingest delivery failed", "subject", message.Subject, "error", processErr.Error())
		}
		subscriber.nackMessage(message, nackDelay)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// subjectService extracts the originating service from a subject.
// Params: full NATS subject.
// Returns: last subject token, or empty for malformed subjects.
func subjectService(subject string) string {
	index := strings.LastIndexByte(subject, '.')
	if index < 0 || index == len(subject)-1 {
		return ""
	}
	return subject[index+1:]
}

// ackMessage acknowledges a processed/rejected message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver the message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops the NATS subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
