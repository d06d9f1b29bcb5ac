// Package messaging is the NATS request/reply layer between the relay, which
// asks for trip membership, and the trip directory, which answers.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string        // client name shown in NATS monitoring
	ReconnectWait  time.Duration // pause between reconnect attempts
	MaxReconnects  int           // -1 retries forever
	HandlerTimeout time.Duration // deadline given to each served request
}

// DefaultConfig returns the settings used by both binaries.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "tripchat",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		HandlerTimeout: 3 * time.Second,
	}
}

// HandlerFunc answers one request payload. A returned error is logged and
// the request is left unanswered, so the caller sees a timeout.
type HandlerFunc func(ctx context.Context, data []byte) ([]byte, error)

// Client is a NATS connection plus the queue subscriptions it serves.
type Client struct {
	conn           *nats.Conn
	handlerTimeout time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS. It fails if the first connection attempt fails;
// later outages are retried in the background.
func Connect(cfg Config) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Str("module", "nats").Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "nats").Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", cfg.URL, err)
	}
	log.Info().Str("module", "nats").Str("url", nc.ConnectedUrl()).Str("name", cfg.Name).Msg("connected")

	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().HandlerTimeout
	}
	return &Client{conn: nc, handlerTimeout: timeout}, nil
}

// Request sends data on subject and waits for one reply until ctx is done.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("messaging: request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Serve answers requests on subject as a member of queue, so each request is
// handled by one instance of the group. It returns once the subscription is
// known to the server.
func (c *Client) Serve(subject, queue string, h HandlerFunc) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()

		reply, err := h(ctx, m.Data)
		if err != nil {
			log.Warn().Str("module", "nats").Str("subject", subject).Err(err).Msg("handler failed")
			return
		}
		if err := m.Respond(reply); err != nil {
			log.Warn().Str("module", "nats").Str("subject", subject).Err(err).Msg("respond failed")
		}
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s/%s: %w", subject, queue, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("messaging: flush %s: %w", subject, err)
	}
	return nil
}

// Close drains served subscriptions, letting in-flight requests finish,
// then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Str("module", "nats").Str("subject", sub.Subject).Err(err).Msg("drain subscription")
		}
	}
	if err := c.conn.Drain(); err != nil {
		log.Warn().Str("module", "nats").Err(err).Msg("drain connection")
	}
}
