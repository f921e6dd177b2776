package kbroker

import (
	"context"
	"sync"
)

// base carries the state and topic handling shared by every broker flavour.
type base struct {
	mu    sync.Mutex
	state state
	addr  string
	admin *admin
}

func (b *base) ready() (*admin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admin, b.state == stateReady
}

func (b *base) CreateTopic(ctx context.Context, name string) error {
	a, ok := b.ready()
	if !ok {
		return &TopicCreationError{Topic: name, Err: ErrNotReady}
	}
	return a.topics.Ensure(ctx, name)
}

func (b *base) Topics() []string {
	a, _ := b.ready()
	if a == nil {
		return nil
	}
	return a.topics.Names()
}

func (b *base) EndOffset(ctx context.Context, topic string) (int64, error) {
	a, ok := b.ready()
	if !ok {
		return 0, ErrNotReady
	}
	return a.topics.EndOffset(ctx, topic)
}

func (b *base) BootstrapAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}
