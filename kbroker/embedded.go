package kbroker

import (
	"context"
	"errors"
	"time"

	"github.com/birdayz/kstreams-harness/internal/klog"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kfake"
)

// Embedded is a single-node Kafka-protocol cluster running inside the test
// process. Its log lives in memory and disappears with Stop.
type Embedded struct {
	// Port to listen on; zero picks an ephemeral port.
	Port int
	// StartupTimeout bounds Start, DefaultStartupTimeout if zero.
	StartupTimeout time.Duration
	// Log receives broker and admin client logs.
	Log logr.Logger

	base
	cluster *kfake.Cluster
}

var _ Broker = (*Embedded)(nil)

func (b *Embedded) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateReady:
		return nil
	case stateStopped:
		return &StartupError{Broker: "embedded", Err: ErrStopped}
	}

	opts := []kfake.Opt{
		kfake.NumBrokers(1),
		kfake.WithLogger(klog.Cluster(b.Log.WithName("kfake"))),
	}
	if b.Port != 0 {
		opts = append(opts, kfake.Ports(b.Port))
	}

	err := retry(ctx, b.StartupTimeout, func() error {
		c, err := kfake.NewCluster(opts...)
		if err != nil {
			b.Log.V(1).Info("Failed to bind embedded broker, retrying", "port", b.Port, "error", err)
			return err
		}
		b.cluster = c
		return nil
	})
	if err != nil {
		b.release()
		return &StartupError{Broker: "embedded", Err: err}
	}

	addrs := b.cluster.ListenAddrs()
	if len(addrs) == 0 {
		b.release()
		return &StartupError{Broker: "embedded", Err: errors.New("cluster has no listeners")}
	}

	a, err := connect(ctx, b.Log.WithName("admin"), addrs, b.StartupTimeout)
	if err != nil {
		b.release()
		return &StartupError{Broker: "embedded", Err: err}
	}

	b.admin = a
	b.addr = addrs[0]
	b.state = stateReady
	b.Log.Info("Embedded broker ready", "addr", b.addr)
	return nil
}

func (b *Embedded) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateStopped {
		return nil
	}
	b.release()
	b.state = stateStopped
	b.Log.Info("Embedded broker stopped", "addr", b.addr)
	return nil
}

// release must be called with mu held.
func (b *Embedded) release() {
	b.admin.close()
	b.admin = nil
	if b.cluster != nil {
		b.cluster.Close()
		b.cluster = nil
	}
}

// Cluster exposes the underlying fake cluster, e.g. to inject faults.
// It is nil unless the broker is ready.
func (b *Embedded) Cluster() *kfake.Cluster {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cluster
}
