package domain

import (
	"context"
	"io"
)

// Message is one delivery from the signal bus.
type Message struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub messaging between the ingestion pipeline and
// the broadcast hub. Implementations must close returned channels when ctx
// is cancelled.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	// PSubscribe subscribes by glob pattern, e.g. "quotes.*".
	PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, error)
}

// QuoteCache is the cross-process copy of the latest snapshot per symbol.
// A server-only deployment reads quotes from here when it has no local
// snapshot store of its own.
type QuoteCache interface {
	Set(ctx context.Context, snap PriceSnapshot) error
	Get(ctx context.Context, symbol string) (PriceSnapshot, error)
	GetAll(ctx context.Context, symbols []string) (map[string]PriceSnapshot, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
