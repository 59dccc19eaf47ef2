package domain

import (
	"context"
	"io"
	"time"
)

// Clock supplies the current time. The engine never reads the wall clock
// directly; the deadline is a data value compared against Clock.Now.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// LockManager serializes operations per entity across processes. Acquire
// returns ErrLockHeld when another holder has the key; the core never
// retries.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes market lifecycle events to API consumers and appends
// them to a durable stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads audit snapshots to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
