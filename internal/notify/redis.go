package notify

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-form-workflows/internal/logger"
)

// RedisPublisher appends events to a Redis stream. The JSON body is stored
// in a single "data" field.
type RedisPublisher struct {
	cli    *redis.Client
	stream string
	maxLen int64
	log    *logger.Logger
}

// NewRedisPublisher parses url and pings the server.
func NewRedisPublisher(ctx context.Context, url, stream string, maxLen int64, log *logger.Logger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cli := redis.NewClient(opt)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if stream == "" {
		stream = "notifications:forms"
	}
	return &RedisPublisher{cli: cli, stream: stream, maxLen: maxLen, log: log}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_type": string(evt.EventType),
			"data":       string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.cli.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.log.Debug().
		Str("stream", p.stream).
		Str("event_type", string(evt.EventType)).
		Str("submission_id", evt.ResourceID).
		Msg("notification: event published")
	return nil
}

func (p *RedisPublisher) Close() error { return p.cli.Close() }
