package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iokit/iokit/codec"
)

// RpcHandler serves one request. Returning an error after Reply was called
// only logs; returning an error before any reply sends it back to the
// caller through the error header, so a handler can surface failures
// either way.
type RpcHandler func(ctx context.Context, req *Request) error

// Request is one decoded RPC request plus its reply and acknowledgement
// hooks. DecodeErr is set when the body could not be decoded; the raw
// bytes remain on Msg.Body and the handler decides whether that is fatal.
type Request struct {
	Msg       *Message
	DecodeErr error

	delivery amqp.Delivery
	ch       Channel
	ackMode  AckMode
	replied  atomic.Bool
}

// Reply sends the response to the request's reply-to queue with the
// original correlation id. Passing an error value sends an empty body with
// the error text in the error header. Replying twice is a programming
// error and panics with ErrAlreadyReplied.
func (r *Request) Reply(v any) error {
	if r.Msg.ReplyTo == "" {
		return ErrNoReplyTo
	}
	if !r.replied.CompareAndSwap(false, true) {
		panic(ErrAlreadyReplied)
	}

	publishing := amqp.Publishing{CorrelationId: r.Msg.CorrelationID}

	if err, ok := v.(error); ok {
		publishing.Headers = amqp.Table{"error": err.Error()}
	} else {
		body, ct, err := codec.Encode(v, "")
		if err != nil {
			r.replied.Store(false)
			return err
		}
		publishing.Body = body
		publishing.ContentType = ct
	}

	if err := r.ch.PublishWithContext(context.Background(), "", r.Msg.ReplyTo, false, false, publishing); err != nil {
		return &PublishError{Exchange: "", RoutingKey: r.Msg.ReplyTo, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Replied reports whether a reply has been sent for this request.
func (r *Request) Replied() bool {
	return r.replied.Load()
}

// Ack acknowledges the delivery. Only valid when the responder was started
// with AckManual.
func (r *Request) Ack() error {
	if r.ackMode != AckManual {
		return ErrManualAckDisabled
	}
	return r.delivery.Ack(false)
}

// OnRpc serves requests from the named queue. The queue is declared
// exclusive (override with WithSharedQueue) and auto-delete, and the
// channel prefetch is set to 1 so each responder processes one request at
// a time. On the shared channel that single credit is split across every
// responder registered through the same facade, serializing delivery
// across them; WithDedicatedChannel opts a responder out.
func (b *Broker) OnRpc(ctx context.Context, queue string, handler RpcHandler, options ...RpcOption) (*Subscription, error) {
	o := rpcOptions{exclusive: true, ackMode: AckAuto}
	for _, opt := range options {
		opt(&o)
	}

	ch := b.ch
	if o.dedicatedChannel {
		if b.open == nil {
			return nil, ErrDedicatedChannelUnavailable
		}
		dedicated, err := b.open()
		if err != nil {
			return nil, &ConsumeError{Queue: queue, Op: "open dedicated channel", Err: err, Timestamp: time.Now()}
		}
		ch = dedicated
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "set prefetch", Err: err, Timestamp: time.Now()}
	}

	if _, err := ch.QueueDeclare(queue, false, true, o.exclusive, false, nil); err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	tag := "rpc-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, o.ackMode == AckAuto, o.exclusive, false, false, nil)
	if err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	sub := newSubscription(ch, queue, tag, b.logger)
	if o.dedicatedChannel {
		if closer, ok := ch.(interface{ Close() error }); ok {
			sub.owned = closer
		}
	}
	go b.serveRpc(ctx, ch, deliveries, handler, o, sub)
	b.watchContext(ctx, sub)

	b.logger.Debug("rpc responder registered", "queue", queue, "consumerTag", tag, "ackMode", o.ackMode)
	return sub, nil
}

// serveRpc decodes each request and runs the handler. A handler failure
// that left the request unanswered is relayed to the caller as an error
// reply so the call does not dangle until its timeout.
func (b *Broker) serveRpc(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery, handler RpcHandler, o rpcOptions, sub *Subscription) {
	defer sub.markDone()

	for d := range deliveries {
		msg, decodeErr := newMessage(d, o.contentType)
		req := &Request{
			Msg:       msg,
			DecodeErr: decodeErr,
			delivery:  d,
			ch:        ch,
			ackMode:   o.ackMode,
		}

		err := invokeHandler(ctx, handler, req)
		if err == nil {
			continue
		}
		if req.Replied() {
			b.logger.Error("rpc handler failed after replying", "queue", sub.queue, "error", err)
			continue
		}
		if replyErr := req.Reply(err); replyErr != nil && !errors.Is(replyErr, ErrNoReplyTo) {
			b.logger.Error("failed to send error reply", "queue", sub.queue, "error", replyErr)
		}
	}
}

// invokeHandler recovers handler panics into errors so one bad request
// cannot kill the responder. A double-reply panic is a programming error
// and is re-raised.
func invokeHandler(ctx context.Context, handler RpcHandler, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, ErrAlreadyReplied) {
				panic(r)
			}
			err = fmt.Errorf("rabbit: rpc handler panic: %v", r)
		}
	}()
	return handler(ctx, req)
}
