// Package bus carries chat events in and reply chunks out over NATS.
package bus

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
}

// Connect dials url with reconnect handling enabled.
func Connect(url string) (*Client, error) {
	opts := []nats.Option{
		nats.Name("s4u-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("disconnected from nats", slog.Any("err", err), slog.String("component", "bus"))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to nats", slog.String("url", nc.ConnectedUrl()), slog.String("component", "bus"))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("nats connection closed", slog.String("component", "bus"))
		}),
		nats.Timeout(10 * time.Second),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
