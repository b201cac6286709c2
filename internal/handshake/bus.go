package handshake

import "sync"

// Bus is a broadcast channel scoped to one page. Every subscriber sees every
// published message, including its own.
type Bus interface {
	Publish(m Message)
	// Subscribe registers h and returns the function that removes it.
	Subscribe(h func(Message)) (unsubscribe func())
}

// LocalBus is an in-process Bus. Handlers run on the publisher's goroutine and
// must not block.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(Message)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Message))}
}

func (b *LocalBus) Publish(m Message) {
	b.mu.RLock()
	snapshot := make([]func(Message), 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(m)
	}
}

func (b *LocalBus) Subscribe(h func(Message)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
