// Package iokit is a small distributed-application toolkit: one facade
// over topic pub/sub and RPC on a message broker, plus optional storage
// capabilities composed in at construction time.
package iokit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	iamqp "github.com/iokit/iokit/internal/amqp"

	"github.com/iokit/iokit/config"
	"github.com/iokit/iokit/monitor"
	"github.com/iokit/iokit/rabbit"
	"github.com/iokit/iokit/store"
)

// Io is the unified access point. It owns one broker connection with one
// shared channel; every pub/sub and RPC operation multiplexes over it.
// Construction blocks until the channel is ready, so operations may be
// issued immediately afterwards.
type Io struct {
	cfg    *config.Config
	conn   *iamqp.Connection
	broker *rabbit.Broker
	mgmt   *monitor.Client
	logger *slog.Logger

	kv   *store.KeyValue
	docs *store.Documents
	caps map[string]any

	closeOnce sync.Once
	closeErr  error
}

// New resolves configuration, connects to the broker, and assembles the
// facade. A connection failure here is returned; a connection-level error
// after establishment is fatal and terminates the process unless a fatal
// handler option says otherwise.
func New(ctx context.Context, options ...Option) (*Io, error) {
	s := settings{
		logger: slog.Default(),
		caps:   map[string]any{},
	}
	for _, opt := range options {
		opt(&s)
	}

	cfg := s.cfg
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}

	connOpts := []iamqp.Option{iamqp.WithLogger(s.logger)}
	if tlsCfg != nil {
		connOpts = append(connOpts, iamqp.WithTLS(tlsCfg))
	}
	if s.fatal != nil {
		connOpts = append(connOpts, iamqp.WithFatalHandler(s.fatal))
	}

	conn := iamqp.New(cfg.AMQPURL(), connOpts...)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	broker := rabbit.NewBroker(ch,
		rabbit.WithDefaultExchange(cfg.Exchange),
		rabbit.WithTopicPrefix(cfg.Prefix),
		rabbit.WithBrokerLogger(s.logger),
		rabbit.WithChannelOpener(func() (rabbit.Channel, error) {
			dedicated, err := conn.NewChannel()
			if err != nil {
				return nil, err
			}
			return dedicated, nil
		}),
	)

	io := &Io{
		cfg:    cfg,
		conn:   conn,
		broker: broker,
		mgmt:   monitor.NewClient(cfg.ManagementURL(), cfg.Vhost, cfg.ManagementUsername(), cfg.ManagementPassword()),
		logger: s.logger,
		kv:     s.kv,
		docs:   s.docs,
		caps:   s.caps,
	}

	if io.kv == nil && cfg.KeyValue.Addr != "" {
		io.kv = store.DialKeyValue(cfg.KeyValue.Addr, cfg.KeyValue.Password, cfg.KeyValue.DB)
	}
	if io.docs == nil && cfg.Documents.URI != "" {
		docs, err := store.DialDocuments(ctx, cfg.Documents.URI, cfg.Documents.Database)
		if err != nil {
			io.Close()
			return nil, err
		}
		io.docs = docs
	}
	if io.kv != nil {
		io.caps["keyvalue"] = io.kv
	}
	if io.docs != nil {
		io.caps["documents"] = io.docs
	}

	return io, nil
}

// PublishTopic publishes content to the configured exchange with topic as
// routing key.
func (io *Io) PublishTopic(ctx context.Context, topic string, content any, options ...rabbit.PublishOption) error {
	return io.broker.PublishTopic(ctx, topic, content, options...)
}

// OnTopic subscribes to a topic pattern. Every subscription gets its own
// queue and its own copy of each matching message.
func (io *Io) OnTopic(ctx context.Context, topic string, handler rabbit.TopicHandler, options ...rabbit.SubscribeOption) (*rabbit.Subscription, error) {
	return io.broker.OnTopic(ctx, topic, handler, options...)
}

// OnQueue consumes a named queue directly.
func (io *Io) OnQueue(ctx context.Context, queue string, handler rabbit.TopicHandler, options ...rabbit.SubscribeOption) (*rabbit.Subscription, error) {
	return io.broker.OnQueue(ctx, queue, handler, options...)
}

// PublishRpc sends a request to the named queue and waits for the
// correlated reply.
func (io *Io) PublishRpc(ctx context.Context, queue string, content any, options ...rabbit.CallOption) (*rabbit.Message, error) {
	return io.broker.Call(ctx, queue, content, options...)
}

// OnRpc serves RPC requests from the named queue.
func (io *Io) OnRpc(ctx context.Context, queue string, handler rabbit.RpcHandler, options ...rabbit.RpcOption) (*rabbit.Subscription, error) {
	return io.broker.OnRpc(ctx, queue, handler, options...)
}

// GetQueues lists the vhost's queues through the management API.
func (io *Io) GetQueues(ctx context.Context) ([]monitor.QueueInfo, error) {
	return io.mgmt.GetQueues(ctx)
}

// KeyValue returns the key-value capability, or nil when not configured.
func (io *Io) KeyValue() *store.KeyValue {
	return io.kv
}

// Documents returns the document-database capability, or nil when not
// configured.
func (io *Io) Documents() *store.Documents {
	return io.docs
}

// Capability returns a named capability composed in at construction.
func (io *Io) Capability(name string) (any, bool) {
	c, ok := io.caps[name]
	return c, ok
}

// Config returns the resolved configuration.
func (io *Io) Config() *config.Config {
	return io.cfg
}

// Close tears down the facade: broker connection first, then the storage
// capabilities. Idempotent, and safe if construction never finished.
func (io *Io) Close() error {
	io.closeOnce.Do(func() {
		if io.conn != nil {
			io.closeErr = io.conn.Close()
		}
		if io.kv != nil {
			if err := io.kv.Close(); err != nil && io.closeErr == nil {
				io.closeErr = fmt.Errorf("close key-value store: %w", err)
			}
		}
		if io.docs != nil {
			if err := io.docs.Close(context.Background()); err != nil && io.closeErr == nil {
				io.closeErr = fmt.Errorf("close document store: %w", err)
			}
		}
	})
	return io.closeErr
}
