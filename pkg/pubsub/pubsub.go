// Package pubsub implements a minimal publish/subscribe mechanism.
package pubsub

import (
	"log/slog"
	"sync"
)

// A Publisher sends each published item to all subscribed clients.
type Publisher[T any] struct {
	clients map[chan T]struct{}
	logger  *slog.Logger
	lock    sync.RWMutex
}

// New returns a new Publisher.
func New[T any](logger *slog.Logger) *Publisher[T] {
	return &Publisher[T]{
		clients: make(map[chan T]struct{}),
		logger:  logger,
	}
}

// Subscribe returns a channel on which the caller will receive all future
// published items. The channel holds one item, so a subscriber still handling
// the previous item doesn't stall the publisher.
func (p *Publisher[T]) Subscribe() chan T {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch := make(chan T, 1)
	p.clients[ch] = struct{}{}
	p.logger.Debug("subscriber added", slog.Int("subscribers", len(p.clients)))
	return ch
}

// Unsubscribe deregisters the channel. It does not close it.
func (p *Publisher[T]) Unsubscribe(ch chan T) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.clients, ch)
	p.logger.Debug("subscriber removed", slog.Int("subscribers", len(p.clients)))
}

// Publish sends item to all subscribers. It blocks until every subscriber has
// received or buffered it: items are never dropped.
func (p *Publisher[T]) Publish(item T) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for ch := range p.clients {
		ch <- item
	}
}

// Subscribers returns the number of subscribed clients.
func (p *Publisher[T]) Subscribers() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.clients)
}
