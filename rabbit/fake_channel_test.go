package rabbit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel is an in-memory stand-in for an AMQP channel. It routes
// publishes to consumers through queue bindings with topic wildcard
// matching, enough to exercise the broker layer without a live RabbitMQ.
type fakeChannel struct {
	mu        sync.Mutex
	queues    map[string]bool
	byQueue   map[string][]*fakeConsumer
	byTag     map[string]*fakeConsumer
	bindings  []fakeBinding
	exchanges []string
	qosCalls  [][3]any
	genSeq    int

	closed bool

	declareErr error
	consumeErr error
	publishErr error
	cancelErr  error
}

type fakeConsumer struct {
	tag       string
	queue     string
	ch        chan amqp.Delivery
	cancelled bool
}

type fakeBinding struct {
	queue    string
	pattern  string
	exchange string
}

type fakeAcker struct {
	mu    sync.Mutex
	acked []uint64
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (a *fakeAcker) Reject(tag uint64, requeue bool) error         { return nil }

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		queues:  make(map[string]bool),
		byQueue: make(map[string][]*fakeConsumer),
		byTag:   make(map[string]*fakeConsumer),
	}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if name == "" {
		f.genSeq++
		name = fmt.Sprintf("amq.gen-%d", f.genSeq)
	}
	f.queues[name] = true
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, fakeBinding{queue: name, pattern: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	c := &fakeConsumer{tag: consumer, queue: queue, ch: make(chan amqp.Delivery, 32)}
	f.byQueue[queue] = append(f.byQueue[queue], c)
	f.byTag[consumer] = c
	return c.ch, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	c, ok := f.byTag[consumer]
	if !ok || c.cancelled {
		return nil
	}
	c.cancelled = true
	close(c.ch)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qosCalls = append(f.qosCalls, [3]any{prefetchCount, prefetchSize, global})
	return nil
}

func (f *fakeChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}

	delivery := amqp.Delivery{
		Acknowledger:  &fakeAcker{},
		Body:          msg.Body,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Headers:       msg.Headers,
		Exchange:      exchange,
		RoutingKey:    key,
	}

	if exchange == "" {
		f.deliverLocked(key, delivery)
		return nil
	}

	for _, b := range f.bindings {
		if b.exchange == exchange && topicMatch(b.pattern, key) {
			f.deliverLocked(b.queue, delivery)
		}
	}
	return nil
}

// deliverLocked pushes a delivery to the first live consumer of a queue.
func (f *fakeChannel) deliverLocked(queue string, d amqp.Delivery) {
	for _, c := range f.byQueue[queue] {
		if c.cancelled {
			continue
		}
		select {
		case c.ch <- d:
		default:
		}
		return
	}
}

// topicMatch implements AMQP topic wildcard matching: * matches exactly
// one word, # matches zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		if matchWords(pattern[1:], key) {
			return true
		}
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern, key[1:])
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
