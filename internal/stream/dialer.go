package stream

import (
	"context"
	"net/url"
	"strings"
)

// Conn is one established transport.
type Conn interface {
	// ReadFrame blocks until the next inbound frame. It returns an error once
	// the transport fails or is closed.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one outbound frame.
	WriteFrame(ctx context.Context, data []byte) error
	// Close releases the transport and unblocks ReadFrame.
	Close() error
}

// Dialer opens transports for a uuid.
type Dialer interface {
	Dial(ctx context.Context, uuid string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, uuid string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, uuid string) (Conn, error) {
	return f(ctx, uuid)
}

// uuidPlaceholder in an endpoint template is replaced by the escaped uuid.
const uuidPlaceholder = "{uuid}"

// Endpoint expands template for uuid. Templates without a placeholder get
// the uuid appended as a final path segment.
func Endpoint(template, uuid string) string {
	escaped := url.PathEscape(uuid)
	if strings.Contains(template, uuidPlaceholder) {
		return strings.ReplaceAll(template, uuidPlaceholder, escaped)
	}
	return strings.TrimRight(template, "/") + "/" + escaped
}
