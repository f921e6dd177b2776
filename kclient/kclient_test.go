package kclient

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/kstreams-harness/kbroker"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/go-logr/logr/testr"
)

func startBroker(t *testing.T, topics ...string) *kbroker.Embedded {
	t.Helper()
	b := &kbroker.Embedded{Log: testr.New(t)}
	assert.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	for _, topic := range topics {
		assert.NoError(t, b.CreateTopic(context.Background(), topic))
	}
	return b
}

func producerProps(b kbroker.Broker) kconfig.Properties {
	return kconfig.Properties{
		kconfig.BootstrapServers: b.BootstrapAddress(),
		kconfig.Acks:             "all",
	}
}

func consumerProps(b kbroker.Broker, group string) kconfig.Properties {
	return kconfig.Properties{
		kconfig.BootstrapServers: b.BootstrapAddress(),
		kconfig.GroupID:          group,
		kconfig.AutoOffsetReset:  "earliest",
		kconfig.FetchMaxWaitMs:   "100",
	}
}
