package publisher

import (
	"log/slog"
	"sync"
)

// Registry hands out one Publisher per user id so each device's cooldown is
// independent on the server side. Publishers are created lazily and live for
// the process lifetime.
type Registry struct {
	writer LocationWriter
	log    *slog.Logger
	opts   []Option

	mu         sync.Mutex
	publishers map[string]*Publisher
}

// NewRegistry creates a Registry. opts apply to every publisher it creates.
func NewRegistry(writer LocationWriter, log *slog.Logger, opts ...Option) *Registry {
	return &Registry{
		writer:     writer,
		log:        log,
		opts:       opts,
		publishers: make(map[string]*Publisher),
	}
}

// For returns the publisher for userID, creating it on first use.
func (r *Registry) For(userID string) *Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.publishers[userID]
	if !ok {
		p = New(r.writer, r.log, r.opts...)
		r.publishers[userID] = p
	}
	return p
}
