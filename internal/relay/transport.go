package relay

import "context"

// Conn is one upstream transport connection carrying protocol lines.
type Conn interface {
	// WriteLine queues a line for sending. It must not block; an error
	// means the connection is unusable.
	WriteLine(line string) error
	// ReadFrame blocks until the next payload arrives. A payload may hold
	// several lines.
	ReadFrame() (string, error)
	Close() error
}

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
