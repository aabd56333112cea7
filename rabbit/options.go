package rabbit

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AckMode selects how a responder acknowledges deliveries. The mode is an
// explicit option rather than something inferred from the handler.
type AckMode int

const (
	// AckAuto consumes in no-ack mode; the broker considers a message
	// delivered as soon as it is pushed to the consumer.
	AckAuto AckMode = iota
	// AckManual leaves acknowledgement to the handler via Request.Ack.
	AckManual
)

// publishOptions configure PublishTopic.
type publishOptions struct {
	contentType string
	exchange    string
	headers     amqp.Table
	sniff       bool
}

// PublishOption configures a topic publish.
type PublishOption func(*publishOptions)

// WithContentType declares an explicit content-type tag on the wire. The
// encoding is still chosen by the value's runtime type.
func WithContentType(ct string) PublishOption {
	return func(o *publishOptions) { o.contentType = ct }
}

// WithExchange overrides the configured exchange for this publish.
func WithExchange(exchange string) PublishOption {
	return func(o *publishOptions) { o.exchange = exchange }
}

// WithHeaders attaches headers to the published message.
func WithHeaders(headers amqp.Table) PublishOption {
	return func(o *publishOptions) { o.headers = headers }
}

// WithSniffedContentType detects the content-type of a raw byte payload
// instead of tagging it application/octet-stream. Opt-in; it changes the
// tag seen by subscribers.
func WithSniffedContentType() PublishOption {
	return func(o *publishOptions) { o.sniff = true }
}

// subscribeOptions configure OnTopic and OnQueue.
type subscribeOptions struct {
	contentType string
	exchange    string
	durable     bool
	autoDelete  bool
	exclusive   bool
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

// WithDecodeContentType decodes every delivery with the given tag instead
// of the message's own declared content-type.
func WithDecodeContentType(ct string) SubscribeOption {
	return func(o *subscribeOptions) { o.contentType = ct }
}

// WithBindExchange overrides the exchange the subscription queue binds to.
func WithBindExchange(exchange string) SubscribeOption {
	return func(o *subscribeOptions) { o.exchange = exchange }
}

// WithDurableQueue declares the OnQueue queue as durable and not
// auto-deleting. Ignored by OnTopic, whose queues are always ephemeral.
func WithDurableQueue() SubscribeOption {
	return func(o *subscribeOptions) {
		o.durable = true
		o.autoDelete = false
	}
}

// callOptions configure Call.
type callOptions struct {
	correlationID string
	contentType   string
	replyTo       string
	timeout       time.Duration
	headers       amqp.Table
}

// CallOption configures an RPC call.
type CallOption func(*callOptions)

// WithCorrelationID supplies the correlation id instead of generating one.
func WithCorrelationID(id string) CallOption {
	return func(o *callOptions) { o.correlationID = id }
}

// WithCallContentType declares an explicit content-type tag on the request.
func WithCallContentType(ct string) CallOption {
	return func(o *callOptions) { o.contentType = ct }
}

// WithReplyTo routes the reply to a known queue instead of an ephemeral
// one. The call opts out of correlation: it settles immediately with a
// stub message and whoever consumes the named queue sees the reply.
func WithReplyTo(queue string) CallOption {
	return func(o *callOptions) { o.replyTo = queue }
}

// WithTimeout bounds how long the call waits for a reply.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithCallHeaders attaches headers to the request.
func WithCallHeaders(headers amqp.Table) CallOption {
	return func(o *callOptions) { o.headers = headers }
}

// rpcOptions configure OnRpc.
type rpcOptions struct {
	exclusive        bool
	ackMode          AckMode
	contentType      string
	dedicatedChannel bool
}

// RpcOption configures a responder.
type RpcOption func(*rpcOptions)

// WithSharedQueue declares the responder queue non-exclusive so several
// responder processes can share it.
func WithSharedQueue() RpcOption {
	return func(o *rpcOptions) { o.exclusive = false }
}

// WithAckMode selects automatic or manual acknowledgement.
func WithAckMode(mode AckMode) RpcOption {
	return func(o *rpcOptions) { o.ackMode = mode }
}

// WithRpcDecodeContentType decodes every request with the given tag.
func WithRpcDecodeContentType(ct string) RpcOption {
	return func(o *rpcOptions) { o.contentType = ct }
}

// WithDedicatedChannel serves this responder on its own channel, giving it
// a private prefetch credit. By default all responders share the facade's
// single channel and therefore one unacknowledged-message credit, which
// serializes delivery across responders.
func WithDedicatedChannel() RpcOption {
	return func(o *rpcOptions) { o.dedicatedChannel = true }
}
