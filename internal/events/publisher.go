// Package events publishes collection lifecycle notifications over NATS so
// downstream consumers (cache warmers, replicas, dashboards) can react to
// index generation changes.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// GenerationChanged is the payload published when a rebuild swaps in a new
// index generation.
type GenerationChanged struct {
	Collection     string    `json:"collection"`
	Generation     uint64    `json:"generation"`
	Variant        string    `json:"variant"`
	CoveredVersion uint64    `json:"covered_version"`
	PublishedAt    time.Time `json:"published_at"`
}

// Publisher emits collection events. A nil Publisher is valid and drops
// every event, so callers never branch on whether eventing is configured.
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS with the standard retry options and returns a
// publisher bound to the connection. token may be empty.
func Connect(url, token string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return &Publisher{conn: conn, logger: logger}, nil
}

// PublishGenerationChanged emits the event on
// vectord.collections.<name>.generation. Publish failures are logged, not
// returned: eventing is an observability concern and must never fail a
// rebuild.
func (p *Publisher) PublishGenerationChanged(ev GenerationChanged) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode generation event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("vectord.collections.%s.generation", ev.Collection)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish generation event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
