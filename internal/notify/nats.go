package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-form-workflows/internal/logger"
)

// NATSPublisher publishes events to NATS JetStream for consumption by the
// notifications service.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	log    *logger.Logger
}

// NewNATSPublisher connects and makes sure a stream captures <prefix>.>.
func NewNATSPublisher(ctx context.Context, url, clientName, prefix string, log *logger.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if prefix == "" {
		prefix = "notifications.forms"
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(prefix),
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure jetstream stream: %w", err)
	}

	return &NATSPublisher{conn: conn, js: js, prefix: prefix, log: log}, nil
}

// Publish sends evt to <prefix>.<event_type>.
func (p *NATSPublisher) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := evt.Subject(p.prefix)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("submission_id", evt.ResourceID).
		Int("recipients", len(evt.Recipients)).
		Msg("notification: event published")
	return nil
}

// Close drains in-flight messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// streamName derives a JetStream stream name from a subject prefix.
func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "", ">", "").Replace(prefix))
}
