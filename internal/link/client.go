package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"track-svr/internal/pipeline"
	"track-svr/internal/track"
)

var ErrNotConnected = errors.New("link: not connected")

const (
	dialRetry      = 5 * time.Second
	reconnectDelay = 2 * time.Second
)

// Client forwards accepted fixes and device events to an upstream proxy as
// NDJSON over one reconnecting TCP connection. A nil *Client is a disabled
// link and drops everything.
type Client struct {
	addr   string
	logger *slog.Logger
	dialer net.Dialer
	retry  time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// New returns nil when addr is empty.
func New(addr string, lg *slog.Logger) *Client {
	if addr == "" {
		lg.Info("link: disabled (no proxy address configured)")
		return nil
	}
	return &Client{
		addr:   addr,
		logger: lg.With("component", "link"),
		retry:  dialRetry,
	}
}

// Run keeps the connection up until ctx is done.
func (c *Client) Run(ctx context.Context) {
	if c == nil {
		return
	}
	for ctx.Err() == nil {
		conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			c.logger.Error("link: dial failed", "addr", c.addr, "err", err)
			if !sleep(ctx, c.retry) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.logger.Info("link: connected", "remote", conn.RemoteAddr().String())

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.readLoop(conn)
		stop()

		c.clearConn(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("link: connection closed, reconnecting...")
		if !sleep(ctx, reconnectDelay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Connected reports whether a proxy connection is currently up.
func (c *Client) Connected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// The proxy does not send commands yet; whatever arrives is logged.
func (c *Client) readLoop(conn net.Conn) {
	r := bufio.NewScanner(conn)
	for r.Scan() {
		c.logger.Debug("link: incoming line", "line", r.Text())
	}
	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("link: read error", "err", err)
	}
}

func (c *Client) sendNDJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

type trackingPayload struct {
	Tracking pipeline.TrackingObject `json:"tracking"`
}

// SendFix forwards one stored fix.
func (c *Client) SendFix(f track.Fix) {
	if c == nil {
		return
	}
	if err := c.sendNDJSON(trackingPayload{Tracking: pipeline.BuildTracking(f)}); err != nil {
		c.logger.Warn("link: send tracking failed", "device", f.DeviceID, "err", err)
	}
}

// SendDeviceEvent reports a device connecting to or leaving the TCP ingest.
func (c *Client) SendDeviceEvent(info DeviceInfo) {
	if c == nil {
		return
	}
	if err := c.sendNDJSON(info.payload()); err != nil {
		c.logger.Warn("link: send device event failed", "device", info.DeviceID, "state", info.State.String(), "err", err)
	}
}
