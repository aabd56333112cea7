// Package amqp owns the broker connection and the shared channel every
// pub/sub and RPC operation multiplexes over.
package amqp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when no connection has been established.
	ErrNotConnected = errors.New("amqp: not connected")
	// ErrConnectionTimeout is returned when dialing exceeds the deadline.
	ErrConnectionTimeout = errors.New("amqp: connection timeout")
)

// ConnectionError describes a failed connection operation.
type ConnectionError struct {
	Op        string
	URL       string
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("amqp connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FatalHandler is invoked when the established connection dies. A broker
// dependent service cannot usefully run half-connected, so the default
// handler logs and terminates the process. There is no reconnect path.
type FatalHandler func(err error)

// Connection is a single long-lived session to the broker. It owns one
// shared channel reused across all pub/sub and RPC operations; additional
// channels are only opened on explicit request.
type Connection struct {
	url         string
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	logger      *slog.Logger
	onFatal     FatalHandler

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// Option configures the Connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithTLS dials the broker over TLS with the given configuration.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Connection) {
		c.tlsConfig = cfg
	}
}

// WithDialTimeout sets the dial deadline.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.dialTimeout = d
	}
}

// WithFatalHandler replaces the default process-terminating handler for
// connection-level errors.
func WithFatalHandler(h FatalHandler) Option {
	return func(c *Connection) {
		c.onFatal = h
	}
}

// New creates an unconnected Connection.
func New(url string, options ...Option) *Connection {
	c := &Connection{
		url:         url,
		dialTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.onFatal == nil {
		logger := c.logger
		c.onFatal = func(err error) {
			logger.Error("broker connection lost", "error", err)
			os.Exit(1)
		}
	}
	return c
}

// Connect dials the broker and opens the shared channel. A dial or channel
// failure is returned to the caller; an error on an already established
// connection is routed to the fatal handler instead.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		var conn *amqp.Connection
		var err error
		if c.tlsConfig != nil {
			conn, err = amqp.DialTLS(c.url, c.tlsConfig)
		} else {
			conn, err = amqp.Dial(c.url)
		}
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return &ConnectionError{Op: "open channel", URL: sanitizeURL(c.url), Err: err, Timestamp: time.Now()}
		}
		c.conn = conn
		c.ch = ch

		notify := make(chan *amqp.Error, 1)
		conn.NotifyClose(notify)
		go c.watch(notify)

		c.logger.Info("connected to broker", "url", sanitizeURL(c.url))
		return nil

	case err := <-errChan:
		return &ConnectionError{Op: "connect", URL: sanitizeURL(c.url), Err: err, Timestamp: time.Now()}

	case <-dialCtx.Done():
		return &ConnectionError{Op: "connect", URL: sanitizeURL(c.url), Err: ErrConnectionTimeout, Timestamp: time.Now()}
	}
}

// watch routes a connection-level close to the fatal handler. A clean
// Close() delivers a nil error on the notify channel and is ignored.
func (c *Connection) watch(notify chan *amqp.Error) {
	err, ok := <-notify
	if !ok || err == nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.onFatal(err)
}

// Channel returns the shared channel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

// NewChannel opens a dedicated channel on the same connection, for
// responders that opt out of the shared prefetch credit.
func (c *Connection) NewChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn.Channel()
}

// IsConnected reports whether the connection is usable.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the connection. Idempotent, and a no-op if never opened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		c.closed = true
		return nil
	}
	c.closed = true

	err := c.conn.Close()
	c.conn = nil
	c.ch = nil
	return err
}

// sanitizeURL strips credentials from a connection URL for logging.
func sanitizeURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}
