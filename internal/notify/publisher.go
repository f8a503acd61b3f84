package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-form-workflows/internal/logger"
)

// Publisher sends one event to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
	Close() error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
func (NoopPublisher) Close() error                          { return nil }

// Config selects and configures a publisher backend.
type Config struct {
	Backend       string // nats | kafka | redis | noop
	NATSURL       string
	ClientName    string
	SubjectPrefix string
	KafkaBrokers  []string
	KafkaTopic    string
	RedisURL      string
	RedisStream   string
	RedisMaxLen   int64
}

// NewPublisher builds the configured backend. Connection failures are
// returned so the caller can decide whether to fall back to noop.
func NewPublisher(ctx context.Context, cfg Config, log *logger.Logger) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "nats":
		return NewNATSPublisher(ctx, cfg.NATSURL, cfg.ClientName, cfg.SubjectPrefix, log)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	case "redis":
		return NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisStream, cfg.RedisMaxLen, log)
	case "", "noop":
		return NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unsupported notification backend %q", cfg.Backend)
	}
}
