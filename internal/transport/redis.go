package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxStreamLength caps mirrored streams with approximate trimming (XADD
// MAXLEN ~). The mirror carries no durability contract, so old entries are
// expendable.
const maxStreamLength = 100_000

// Stream is a MessageTransport over Redis Streams.
type Stream struct {
	client *redis.Client
}

// NewStream connects to Redis and verifies the connection with a ping.
func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

// PublishJSON appends the encoded payload to the Redis stream.
func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode stream payload: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Stream) Close() error {
	return s.client.Close()
}

// Client exposes the underlying Redis client for health checks.
func (s *Stream) Client() *redis.Client {
	return s.client
}
