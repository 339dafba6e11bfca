package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
)

// SSEDialer opens Server-Sent Event transports. Inbound frames are the data
// of each event; outbound frames are POSTed to SendURL.
type SSEDialer struct {
	// URL and SendURL are endpoint templates, see Endpoint. An empty SendURL
	// makes the transport read-only.
	URL     string
	SendURL string
	// Client must not set an overall timeout since the stream is long lived.
	Client *resty.Client
}

// NewSSEDialer creates a dialer with its own resty client.
func NewSSEDialer(url, sendURL string) *SSEDialer {
	return &SSEDialer{URL: url, SendURL: sendURL, Client: resty.New()}
}

func (d *SSEDialer) Dial(ctx context.Context, uuid string) (Conn, error) {
	// The request must outlive ctx, which only bounds the handshake.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	resp, err := d.Client.R().
		SetContext(streamCtx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		Get(Endpoint(d.URL, uuid))

	if !stop() {
		// ctx expired during the handshake
		cancel()
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, fmt.Errorf("sse dial: %w", context.Cause(ctx))
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse dial: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		resp.RawBody().Close()
		cancel()
		return nil, fmt.Errorf("sse handshake: unexpected status %s", resp.Status())
	}

	body := resp.RawBody()
	return &sseConn{
		body:    body,
		scanner: newSSEScanner(body, maxFrameSize),
		cancel:  cancel,
		client:  d.Client,
		sendURL: d.sendEndpoint(uuid),
	}, nil
}

func (d *SSEDialer) sendEndpoint(uuid string) string {
	if d.SendURL == "" {
		return ""
	}
	return Endpoint(d.SendURL, uuid)
}

type sseConn struct {
	body    io.ReadCloser
	scanner *sseScanner
	cancel  context.CancelFunc
	client  *resty.Client
	sendURL string

	closeOnce sync.Once
}

func (c *sseConn) ReadFrame() ([]byte, error) {
	if c.scanner.Next() {
		return []byte(c.scanner.Event().Data), nil
	}
	if err := c.scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}

func (c *sseConn) WriteFrame(ctx context.Context, data []byte) error {
	if c.sendURL == "" {
		return fmt.Errorf("sse transport has no send endpoint")
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(data).
		Post(c.sendURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("sse send: unexpected status %s", resp.Status())
	}
	return nil
}

func (c *sseConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.body.Close()
	})
	return err
}
