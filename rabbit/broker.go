// Package rabbit layers topic pub/sub and request/reply semantics over a
// RabbitMQ topic exchange. The broker offers no native RPC concept;
// correlation ids and ephemeral reply queues provide it here.
package rabbit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iokit/iokit/codec"
)

// DefaultExchange is the topic exchange used when none is configured.
const DefaultExchange = "amq.topic"

// Channel is the subset of the AMQP channel the broker layer uses. It is
// satisfied by *amqp091.Channel and kept narrow so tests can stand in a
// fake broker.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

// ChannelOpener opens an additional channel on the same connection, used
// by responders that request a dedicated prefetch credit.
type ChannelOpener func() (Channel, error)

// TopicHandler receives each decoded message. A decode failure is passed
// as the second argument with the raw bytes still available on the
// message; it is never dropped silently.
type TopicHandler func(msg *Message, decodeErr error)

// Broker multiplexes all pub/sub and RPC operations over one shared
// channel. The transport library interleaves frames safely, so concurrent
// calls only contend at the framing level.
type Broker struct {
	ch          Channel
	open        ChannelOpener
	exchange    string
	prefix      string
	callTimeout time.Duration
	logger      *slog.Logger
}

// BrokerOption configures the broker.
type BrokerOption func(*Broker)

// WithDefaultExchange sets the exchange topics route through.
func WithDefaultExchange(exchange string) BrokerOption {
	return func(b *Broker) { b.exchange = exchange }
}

// WithTopicPrefix namespaces every published and bound topic with a static
// prefix without changing the exchange.
func WithTopicPrefix(prefix string) BrokerOption {
	return func(b *Broker) { b.prefix = prefix }
}

// WithCallTimeout sets the default RPC timeout.
func WithCallTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) { b.callTimeout = d }
}

// WithBrokerLogger sets the logger.
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger }
}

// WithChannelOpener enables per-responder dedicated channels.
func WithChannelOpener(open ChannelOpener) BrokerOption {
	return func(b *Broker) { b.open = open }
}

// NewBroker creates a broker over an established channel.
func NewBroker(ch Channel, options ...BrokerOption) *Broker {
	b := &Broker{
		ch:          ch,
		exchange:    DefaultExchange,
		callTimeout: 3000 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// prefixed applies the configured static topic prefix.
func (b *Broker) prefixed(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

// PublishTopic encodes content and publishes it to the exchange with the
// topic as routing key. A nil error means the broker accepted the frame;
// it is a flow-control signal, not a delivery confirmation.
func (b *Broker) PublishTopic(ctx context.Context, topic string, content any, options ...PublishOption) error {
	o := publishOptions{}
	for _, opt := range options {
		opt(&o)
	}

	body, ct, err := codec.Encode(content, o.contentType)
	if err != nil {
		return err
	}
	if o.sniff && o.contentType == "" {
		if raw, ok := content.([]byte); ok {
			ct = codec.Detect(raw)
		}
	}

	exchange := b.exchange
	if o.exchange != "" {
		exchange = o.exchange
	}

	if err := b.ch.ExchangeDeclarePassive(exchange, "topic", true, false, false, false, nil); err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: topic, Err: err, Timestamp: time.Now()}
	}

	err = b.ch.PublishWithContext(ctx, exchange, b.prefixed(topic), false, false, amqp.Publishing{
		ContentType: ct,
		Body:        body,
		Headers:     o.headers,
	})
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: topic, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// OnTopic binds a fresh ephemeral queue to the exchange with the topic as
// binding pattern (broker wildcards apply) and consumes it in no-ack mode.
// Every call creates an independent queue: each subscriber receives its
// own copy of every matching message.
func (b *Broker) OnTopic(ctx context.Context, topic string, handler TopicHandler, options ...SubscribeOption) (*Subscription, error) {
	o := subscribeOptions{autoDelete: true, exclusive: true}
	for _, opt := range options {
		opt(&o)
	}

	exchange := b.exchange
	if o.exchange != "" {
		exchange = o.exchange
	}

	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, &ConsumeError{Queue: topic, Op: "declare subscription queue", Err: err, Timestamp: time.Now()}
	}

	if err := b.ch.QueueBind(q.Name, b.prefixed(topic), exchange, false, nil); err != nil {
		return nil, &ConsumeError{Queue: q.Name, Op: "bind", Err: err, Timestamp: time.Now()}
	}

	return b.consume(ctx, q.Name, "topic", o.contentType, handler)
}

// OnQueue consumes a named queue directly, bypassing the exchange. Unlike
// OnTopic, subscribers on the same queue compete for messages.
func (b *Broker) OnQueue(ctx context.Context, queue string, handler TopicHandler, options ...SubscribeOption) (*Subscription, error) {
	o := subscribeOptions{autoDelete: true}
	for _, opt := range options {
		opt(&o)
	}

	if _, err := b.ch.QueueDeclare(queue, o.durable, o.autoDelete, o.exclusive, false, nil); err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	return b.consume(ctx, queue, "queue", o.contentType, handler)
}

// consume starts a no-ack consumer and dispatches deliveries to the
// handler until the subscription is cancelled.
func (b *Broker) consume(ctx context.Context, queue, kind, contentTypeOverride string, handler TopicHandler) (*Subscription, error) {
	tag := kind + "-" + uuid.NewString()

	deliveries, err := b.ch.Consume(queue, tag, true, false, false, false, nil)
	if err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	sub := newSubscription(b.ch, queue, tag, b.logger)
	go b.dispatch(deliveries, contentTypeOverride, handler, sub)
	b.watchContext(ctx, sub)

	b.logger.Debug("subscribed", "queue", queue, "consumerTag", tag)
	return sub, nil
}

// watchContext cancels the subscription when its context ends.
func (b *Broker) watchContext(ctx context.Context, sub *Subscription) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
}

// dispatch decodes each delivery and invokes the handler. Decode errors
// ride alongside the message.
func (b *Broker) dispatch(deliveries <-chan amqp.Delivery, contentTypeOverride string, handler TopicHandler, sub *Subscription) {
	defer sub.markDone()

	for d := range deliveries {
		msg, decodeErr := newMessage(d, contentTypeOverride)
		handler(msg, decodeErr)
	}
}
