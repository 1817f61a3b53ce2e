// Package transport mirrors decision events to an out-of-process consumer.
// The mirror is strictly fire-and-forget: publish failures are counted and
// dropped, never surfaced to the decision path.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MessageTransport is the event mirror backend. Production uses the Redis
// Streams implementation; tests and single-process deployments use the
// in-memory one.
type MessageTransport interface {
	// PublishJSON appends v, JSON-encoded, to the named stream.
	PublishJSON(ctx context.Context, stream string, v any) error
	Close() error
}

// InMemoryStream is a MessageTransport backed by per-stream buffered
// channels. Full buffers evict the oldest entry so a reader that falls
// behind sees a bounded, recent window rather than blocking the writer.
type InMemoryStream struct {
	mu      sync.Mutex
	streams map[string]chan []byte
	closed  bool
	buffer  int
}

const inMemoryStreamBuffer = 1024

// NewInMemoryStream creates an in-memory transport.
func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams: make(map[string]chan []byte),
		buffer:  inMemoryStreamBuffer,
	}
}

// PublishJSON appends the encoded payload to the stream buffer.
func (s *InMemoryStream) PublishJSON(ctx context.Context, stream string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode stream payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("in-memory stream is closed")
	}
	ch, ok := s.streams[stream]
	if !ok {
		ch = make(chan []byte, s.buffer)
		s.streams[stream] = ch
	}
	for {
		select {
		case ch <- payload:
			return nil
		default:
			// Evict the oldest entry to make room.
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Read drains up to max payloads currently buffered on the stream.
func (s *InMemoryStream) Read(stream string, max int) [][]byte {
	s.mu.Lock()
	ch, ok := s.streams[stream]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	var out [][]byte
	for len(out) < max {
		select {
		case payload := <-ch:
			out = append(out, payload)
		default:
			return out
		}
	}
	return out
}

// Close marks the transport closed; further publishes fail.
func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
