package rabbit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyReplied signals a responder handler replying twice to the
	// same request. This is a programming error, raised as a panic.
	ErrAlreadyReplied = errors.New("rabbit: reply already sent for this request")

	// ErrNoReplyTo is returned when a handler replies to a request that
	// carried no reply-to queue.
	ErrNoReplyTo = errors.New("rabbit: request has no reply-to queue")

	// ErrCorrelationMismatch is returned when the reply queue delivers a
	// message whose correlation id does not match the pending call. The
	// queue is exclusive, so this is unreachable in practice; a mismatch
	// still settles the call rather than leaving it hanging.
	ErrCorrelationMismatch = errors.New("rabbit: received reply with unexpected correlation id")

	// ErrManualAckDisabled is returned by Ack on an auto-acknowledging
	// responder.
	ErrManualAckDisabled = errors.New("rabbit: manual acknowledgement not enabled for this responder")

	// ErrReplyConsumerClosed is returned when the reply consumer shuts
	// down before a reply arrived.
	ErrReplyConsumerClosed = errors.New("rabbit: reply consumer closed before a reply arrived")

	// ErrDedicatedChannelUnavailable is returned when a responder requests
	// its own channel but the broker was built without a channel opener.
	ErrDedicatedChannelUnavailable = errors.New("rabbit: dedicated channels not available")
)

// TimeoutError is returned when no reply arrives within the configured
// call timeout. The message names the configured duration, not the extra
// listener grace.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rabbit: request timed out after %d ms", e.Timeout.Milliseconds())
}

// RemoteError carries the error text a responder relayed through the
// reply's error header.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rabbit: rpc responder error: %s", e.Text)
}

// PublishError describes a failed publish operation.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbit: failed to publish to %s/%s: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConsumeError describes a failed queue or consumer operation.
type ConsumeError struct {
	Queue     string
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("rabbit: %s failed for queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *ConsumeError) Unwrap() error { return e.Err }
