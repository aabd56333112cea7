package rabbit

import (
	"log/slog"
	"sync"
)

// Subscription represents a bound consumer. Unsubscribe cancels the
// consumer by tag; the queue itself is auto-delete and vanishes once its
// last consumer disconnects.
type Subscription struct {
	queue  string
	tag    string
	ch     Channel
	logger *slog.Logger

	// owned is set when the subscription holds a dedicated channel that
	// must be closed along with the consumer.
	owned interface{ Close() error }

	once sync.Once
	done chan struct{}
}

func newSubscription(ch Channel, queue, tag string, logger *slog.Logger) *Subscription {
	return &Subscription{
		queue:  queue,
		tag:    tag,
		ch:     ch,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Queue returns the queue the subscription consumes.
func (s *Subscription) Queue() string { return s.queue }

// ConsumerTag returns the consumer tag.
func (s *Subscription) ConsumerTag() string { return s.tag }

// Unsubscribe fires a cancel for the consumer tag. It is synchronous to
// call but asynchronous to complete, and a failure to cancel cannot be
// surfaced to any waiting caller; it is logged and swallowed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.ch.Cancel(s.tag, false); err != nil {
			s.logger.Debug("failed to cancel consumer", "consumerTag", s.tag, "queue", s.queue, "error", err)
		}
		if s.owned != nil {
			if err := s.owned.Close(); err != nil {
				s.logger.Debug("failed to close dedicated channel", "queue", s.queue, "error", err)
			}
		}
	})
}

// Done is closed once the dispatch loop has drained.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) markDone() {
	close(s.done)
}
