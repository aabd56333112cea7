package rabbit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iokit/iokit/codec"
)

// callGrace is added to the listener deadline so a reply racing the
// responder-side expiration still wins.
const callGrace = 100 * time.Millisecond

// Call sends a request to the named queue and waits for the correlated
// reply. The call settles exactly once: with the matching reply, with a
// timeout error naming the configured duration, or with the context's
// error, whichever comes first. A reply arriving after the timer fired is
// a no-op.
func (b *Broker) Call(ctx context.Context, queue string, content any, options ...CallOption) (*Message, error) {
	o := callOptions{timeout: b.callTimeout}
	for _, opt := range options {
		opt(&o)
	}

	correlationID := o.correlationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	body, ct, err := codec.Encode(content, o.contentType)
	if err != nil {
		return nil, err
	}

	publishing := amqp.Publishing{
		ContentType:   ct,
		Body:          body,
		CorrelationId: correlationID,
		Headers:       o.headers,
		Expiration:    strconv.FormatInt(o.timeout.Milliseconds(), 10),
	}

	// A caller-supplied reply-to queue opts out of correlation: send and
	// settle immediately with a stub; whoever consumes that queue owns the
	// reply.
	if o.replyTo != "" {
		publishing.ReplyTo = o.replyTo
		if err := b.ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
			return nil, &PublishError{Exchange: "", RoutingKey: queue, Err: err, Timestamp: time.Now()}
		}
		return &Message{CorrelationID: correlationID, ReplyTo: o.replyTo}, nil
	}

	// Skipping this assertion makes reply-to delivery fail silently on
	// some broker versions even though the consumer below creates the
	// queue demand; keep it.
	replyQueue, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, &ConsumeError{Queue: queue, Op: "declare reply queue", Err: err, Timestamp: time.Now()}
	}

	tag := "reply-" + uuid.NewString()
	deliveries, err := b.ch.Consume(replyQueue.Name, tag, true, true, false, false, nil)
	if err != nil {
		// A call must never hang; consumer-setup failure settles it now.
		return nil, &ConsumeError{Queue: replyQueue.Name, Op: "consume reply queue", Err: err, Timestamp: time.Now()}
	}
	defer func() {
		if err := b.ch.Cancel(tag, false); err != nil {
			b.logger.Debug("failed to cancel reply consumer", "consumerTag", tag, "error", err)
		}
	}()

	publishing.ReplyTo = replyQueue.Name
	if err := b.ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return nil, &PublishError{Exchange: "", RoutingKey: queue, Err: err, Timestamp: time.Now()}
	}

	timer := time.NewTimer(o.timeout + callGrace)
	defer timer.Stop()

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, ErrReplyConsumerClosed
		}
		if d.CorrelationId != correlationID {
			return nil, ErrCorrelationMismatch
		}
		if text, failed := errorHeader(d.Headers); failed {
			return nil, &RemoteError{Text: text}
		}
		return newMessage(d, "")

	case <-timer.C:
		return nil, &TimeoutError{Timeout: o.timeout}

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// errorHeader extracts the out-of-band error signal from a reply.
func errorHeader(headers amqp.Table) (string, bool) {
	if headers == nil {
		return "", false
	}
	text, ok := headers["error"].(string)
	return text, ok
}
