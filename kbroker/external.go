package kbroker

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// External is a cluster somebody else runs. Start only checks that it
// answers; Stop never touches it.
type External struct {
	Addr           string
	StartupTimeout time.Duration
	Log            logr.Logger

	base
}

var _ Broker = (*External)(nil)

func (b *External) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateReady:
		return nil
	case stateStopped:
		return &StartupError{Broker: "external", Err: ErrStopped}
	}

	a, err := connect(ctx, b.Log.WithName("admin"), []string{b.Addr}, b.StartupTimeout)
	if err != nil {
		return &StartupError{Broker: "external", Err: err}
	}
	b.admin = a
	b.addr = b.Addr
	b.state = stateReady
	return nil
}

func (b *External) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateStopped {
		return nil
	}
	b.admin.close()
	b.admin = nil
	b.state = stateStopped
	return nil
}
