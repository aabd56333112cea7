package rabbit

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iokit/iokit/codec"
)

// Message is the envelope handed to application code. Body always carries
// the raw wire bytes; Content holds the decoded value when decoding
// succeeded for the message's content-type tag.
type Message struct {
	Body          []byte
	Content       any
	ContentType   string
	CorrelationID string
	ReplyTo       string
	RoutingKey    string
	Headers       amqp.Table
}

// newMessage decodes a delivery into an envelope. The returned error is a
// decode error to be passed alongside the message, never a reason to drop
// the delivery.
func newMessage(d amqp.Delivery, contentTypeOverride string) (*Message, error) {
	ct := d.ContentType
	if contentTypeOverride != "" {
		ct = contentTypeOverride
	}

	content, err := codec.Decode(d.Body, ct)

	msg := &Message{
		Body:          d.Body,
		ContentType:   ct,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		RoutingKey:    d.RoutingKey,
		Headers:       d.Headers,
	}
	if err == nil {
		msg.Content = content
	}
	return msg, err
}
