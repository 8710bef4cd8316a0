package wire

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/paynet/bank-gateway/business/router"
	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
)

type ClientConfig struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
	Attempts    int
	Backoff     time.Duration
}

type Client struct {
	addr   string
	dialer net.Dialer
	cfg    ClientConfig
}

func NewClient(addr string, cfg ClientConfig) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 30 * time.Second
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Client{addr: addr, dialer: net.Dialer{Timeout: cfg.DialTimeout}, cfg: cfg}
}

// Send delivers the request and returns the server's response. Error responses are returned as
// responses, not errors. A request is only retried while it has not been written completely, so
// a transfer is never submitted twice.
func (c *Client) Send(ctx context.Context, req router.Request) (router.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		resp, sent, err := c.roundTrip(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return router.Response{}, errors.Wrap(ctx.Err(), "sending request")
		}
		lastErr = err
		if sent || attempt == c.cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return router.Response{}, errors.Wrap(ctx.Err(), "sending request")
		case <-time.After(c.cfg.Backoff):
		}
	}
	return router.Response{}, lastErr
}

func (c *Client) roundTrip(ctx context.Context, req router.Request) (router.Response, bool, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return router.Response{}, false, transportError("connecting to server", err)
	}
	defer conn.Close()

	if err = conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return router.Response{}, false, transportError("setting deadline", err)
	}
	if err = json.NewEncoder(conn).Encode(req); err != nil {
		return router.Response{}, false, transportError("writing request", err)
	}

	var resp router.Response
	if err = json.NewDecoder(conn).Decode(&resp); err != nil {
		return router.Response{}, true, transportError("reading response", err)
	}
	return resp, true, nil
}

func transportError(op string, err error) error {
	return entities.NewError(entities.ErrTransport, "%s: %v", op, err)
}
