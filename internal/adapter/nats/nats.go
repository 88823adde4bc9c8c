// Package nats publishes host events to NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/lsphost/internal/logger"
	"github.com/Strob0t/lsphost/internal/resilience"
)

const (
	streamName = "LSPHOST"

	// HeaderSessionID carries the originating session ID.
	HeaderSessionID = "Session-Id"
)

// Publisher implements broadcast.Broadcaster on a JetStream stream. Each
// event goes to "<prefix>.<eventType>".
type Publisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	prefix  string
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// Connect establishes a connection to NATS and ensures the stream capturing
// prefix.> exists. breaker may be nil.
func Connect(ctx context.Context, url, prefix string, breaker *resilience.Breaker) (*Publisher, error) {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return nil, fmt.Errorf("nats: empty subject prefix")
	}

	nc, err := nats.Connect(url, nats.Name("lsphost"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "prefix", prefix)
	return &Publisher{nc: nc, js: js, prefix: prefix, breaker: breaker, logger: slog.Default()}, nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// BroadcastEvent publishes payload as JSON. Failures are logged, never returned.
func (p *Publisher) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	if err := p.Publish(ctx, eventType, payload); err != nil {
		logger.FromContext(ctx, p.logger).Warn("nats publish failed", "event", eventType, "error", err)
	}
}

// Publish publishes payload as JSON on the subject for eventType.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg := nats.NewMsg(p.Subject(eventType))
	msg.Data = data
	if id := logger.SessionID(ctx); id != "" {
		msg.Header.Set(HeaderSessionID, id)
	}

	publish := func() error {
		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
		return nil
	}
	if p.breaker == nil {
		return publish()
	}
	return p.breaker.Execute(publish)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
