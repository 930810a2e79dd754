// Package client talks to a stats socket. Each call opens its own
// connection, sends one mode byte and decodes the JSON answer.
package client

import (
	"context"
	"net"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/statsock/internal/constants"
	"github.com/hyp3rd/statsock/pkg/protocol"
)

// ErrServerError is returned when the server answered with error=1.
var ErrServerError = ewrap.New("stats server rejected request")

// Client issues requests against the socket at Path.
type Client struct {
	path    string
	timeout time.Duration
	dialer  net.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request when the caller's context has no deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// New returns a client for the socket at path.
func New(path string, opts ...Option) (*Client, error) {
	if path == "" {
		return nil, ewrap.New("socket path is required")
	}

	c := &Client{
		path:    path,
		timeout: constants.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Path returns the socket the client dials.
func (c *Client) Path() string {
	return c.path
}

// Do sends mode and returns the decoded response as-is, including error=1 answers.
func (c *Client) Do(ctx context.Context, mode protocol.Mode) (protocol.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return protocol.Response{}, ewrap.Wrapf(err, "dial stats socket %q", c.path)
	}

	defer func() {
		//nolint:errcheck // the response has already been read or the request failed.
		_ = conn.Close()
	}()

	deadline, _ := ctx.Deadline()

	err = conn.SetDeadline(deadline)
	if err != nil {
		return protocol.Response{}, ewrap.Wrap(err, "set deadline")
	}

	err = protocol.WriteRequest(conn, mode)
	if err != nil {
		return protocol.Response{}, err
	}

	if uc, ok := conn.(*net.UnixConn); ok {
		err = uc.CloseWrite()
		if err != nil {
			return protocol.Response{}, ewrap.Wrap(err, "close write side")
		}
	}

	return protocol.DecodeResponse(conn)
}

// Get returns every counter.
func (c *Client) Get(ctx context.Context) (map[string]int64, error) {
	resp, err := c.checked(ctx, protocol.ModeGet)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// Reset zeroes every counter on the server.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.checked(ctx, protocol.ModeReset)

	return err
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.checked(ctx, protocol.ModePing)

	return err
}

func (c *Client) checked(ctx context.Context, mode protocol.Mode) (protocol.Response, error) {
	resp, err := c.Do(ctx, mode)
	if err != nil {
		return protocol.Response{}, err
	}

	if !resp.OK() {
		return resp, ewrap.Wrapf(ErrServerError, "mode %s", mode)
	}

	return resp, nil
}
