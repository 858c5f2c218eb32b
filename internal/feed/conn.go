package feed

import "context"

// Conn is the minimal surface the manager needs from a live feed
// connection. Tests substitute a scripted implementation.
type Conn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one JSON control frame.
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a new feed connection. The manager redials through it on
// every reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
