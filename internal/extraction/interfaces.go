package extraction

import (
	"context"
	"io"
	"time"
)

// Client submits one media URL with the fixed instruction payload and returns
// the raw model text.
type Client interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Sink appends records to a durable destination.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and performs the pacing sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
