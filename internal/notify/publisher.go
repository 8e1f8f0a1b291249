package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
)

// ConnectNATS dials the NATS server with unbounded reconnects.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// Publisher mirrors recorded events onto NATS JetStream for downstream
// consumers (dashboards, analytics). Publishing is best effort: the event
// log is the source of truth and consumers can always reread it. A nil
// Publisher is a no-op, so the core runs unchanged without NATS.
//
// Subjects follow the pattern: elp.events.{event_type}
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log}
}

// Publish sends one recorded event. Failures are logged, never returned:
// a NATS outage must not block settlement.
func (p *Publisher) Publish(ctx context.Context, e event.Event) {
	if p == nil || p.js == nil {
		return
	}
	data, err := e.Encode()
	if err != nil {
		p.log.Error().Err(err).Str("event_type", string(e.Type)).Msg("encode event for publish")
		return
	}
	subject := fmt.Sprintf("elp.events.%s", e.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
	}
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "ELP_EVENTS",
		Subjects:  []string{"elp.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
