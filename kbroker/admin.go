package kbroker

import (
	"context"
	"time"

	"github.com/birdayz/kstreams-harness/internal/klog"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultStartupTimeout bounds how long a broker may take to accept
// connections and answer metadata requests.
const DefaultStartupTimeout = 30 * time.Second

// admin is the control connection every broker flavour keeps while ready.
type admin struct {
	client *kgo.Client
	topics *TopicRegistry
}

// connect dials addrs and retries a metadata request until the broker
// answers or window elapses.
func connect(ctx context.Context, log logr.Logger, addrs []string, window time.Duration) (*admin, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(addrs...),
		kgo.WithLogger(klog.Client(log)),
	)
	if err != nil {
		return nil, err
	}
	adm := kadm.NewClient(client)

	err = retry(ctx, window, func() error {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		meta, err := adm.BrokerMetadata(probeCtx)
		if err != nil {
			log.V(1).Info("Broker not ready yet", "addrs", addrs, "error", err)
			return err
		}
		if len(meta.Brokers) == 0 {
			return ErrNotReady
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &admin{
		client: client,
		topics: NewTopicRegistry(adm),
	}, nil
}

func (a *admin) close() {
	if a != nil {
		a.client.Close()
	}
}

// retry runs op with exponential backoff until it succeeds, ctx is done or
// window elapses.
func retry(ctx context.Context, window time.Duration, op func() error) error {
	if window <= 0 {
		window = DefaultStartupTimeout
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = window
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
