package mq

import (
	"context"
	"sync"
)

// InMemoryBackend is a process-local Backend used in tests and dev mode.
// Messages published before any subscriber exists are buffered.
type InMemoryBackend struct {
	mu       sync.Mutex
	buffered map[string][]Message
	subs     map[string][]chan Message
	closed   bool
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		buffered: make(map[string][]Message),
		subs:     make(map[string][]chan Message),
	}
}

func (b *InMemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", context.Canceled
	}

	msg := Message{ID: newMessageID(), Data: data, Attributes: attrs}

	if chans := b.subs[channel]; len(chans) > 0 {
		for _, ch := range chans {
			select {
			case ch <- msg:
			default:
				b.buffered[channel] = append(b.buffered[channel], msg)
			}
		}
		return msg.ID, nil
	}

	b.buffered[channel] = append(b.buffered[channel], msg)
	return msg.ID, nil
}

func (b *InMemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch := make(chan Message, 64)

	b.mu.Lock()
	backlog := b.buffered[channel]
	delete(b.buffered, channel)
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	for _, msg := range backlog {
		b.deliver(ctx, channel, handler, msg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			b.deliver(ctx, channel, handler, msg)
		}
	}
}

// deliver invokes the handler; a handler error requeues the message at the
// back of the channel, mirroring a broker nack.
func (b *InMemoryBackend) deliver(ctx context.Context, channel string, handler Handler, msg Message) {
	if err := handler(ctx, msg); err != nil {
		b.mu.Lock()
		b.buffered[channel] = append(b.buffered[channel], msg)
		b.mu.Unlock()
	}
}

// Pending returns the buffered messages for a channel without consuming
// them. Test helper.
func (b *InMemoryBackend) Pending(channel string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.buffered[channel]))
	copy(out, b.buffered[channel])
	return out
}

func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
