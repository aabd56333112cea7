package iokit

import (
	"log/slog"

	iamqp "github.com/iokit/iokit/internal/amqp"

	"github.com/iokit/iokit/config"
	"github.com/iokit/iokit/store"
)

type settings struct {
	cfg    *config.Config
	logger *slog.Logger
	fatal  iamqp.FatalHandler
	kv     *store.KeyValue
	docs   *store.Documents
	caps   map[string]any
}

// Option configures the facade.
type Option func(*settings)

// WithConfig supplies a resolved configuration instead of loading one from
// the environment.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger used across the facade.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithFatalHandler replaces the default process-terminating handler for
// connection-level errors after establishment.
func WithFatalHandler(h iamqp.FatalHandler) Option {
	return func(s *settings) {
		s.fatal = h
	}
}

// WithKeyValue composes in an already-constructed key-value capability.
func WithKeyValue(kv *store.KeyValue) Option {
	return func(s *settings) {
		s.kv = kv
	}
}

// WithDocuments composes in an already-constructed document capability.
func WithDocuments(docs *store.Documents) Option {
	return func(s *settings) {
		s.docs = docs
	}
}

// WithCapability composes in a named capability instance. Capabilities are
// fixed at construction; there is no runtime registry.
func WithCapability(name string, capability any) Option {
	return func(s *settings) {
		s.caps[name] = capability
	}
}
