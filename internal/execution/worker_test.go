package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/kstreams-harness/kbroker"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/kdag"
	"github.com/go-logr/logr/testr"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const (
	inputTopic  = "inputTopic"
	outputTopic = "outputTopic"
)

func startBroker(t *testing.T) *kbroker.Embedded {
	t.Helper()
	b := &kbroker.Embedded{Log: testr.New(t)}
	assert.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	assert.NoError(t, b.CreateTopic(context.Background(), inputTopic))
	assert.NoError(t, b.CreateTopic(context.Background(), outputTopic))
	return b
}

func newWorker(t *testing.T, b kbroker.Broker, props kconfig.Properties) *Worker {
	t.Helper()
	base := kconfig.Properties{
		kconfig.ApplicationID:      "noop-test",
		kconfig.BootstrapServers:   b.BootstrapAddress(),
		kconfig.DefaultKeySerde:    "string",
		kconfig.DefaultValueSerde:  "string",
		kconfig.TimestampExtractor: "record",
		kconfig.PollTimeoutMs:      "100",
		kconfig.ShutdownTimeoutMs:  "5000",
	}
	for k, v := range props {
		base[k] = v
	}
	cfg, err := kconfig.ParseStreams(base)
	assert.NoError(t, err)

	p, err := kdag.PassThrough("noop-test", inputTopic, outputTopic)
	assert.NoError(t, err)

	w, err := NewWorker(testr.New(t), "noop-test-0", p, cfg, WorkerConfig{})
	assert.NoError(t, err)
	return w
}

func run(w *Worker) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- w.Run() }()
	return errc
}

func awaitReady(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("worker never got partitions assigned")
	}
}

func produce(t *testing.T, b kbroker.Broker, records ...*kgo.Record) {
	t.Helper()
	cl, err := kgo.NewClient(kgo.SeedBrokers(b.BootstrapAddress()))
	assert.NoError(t, err)
	defer cl.Close()
	assert.NoError(t, cl.ProduceSync(context.Background(), records...).FirstErr())
}

func consume(t *testing.T, b kbroker.Broker, n int) []*kgo.Record {
	t.Helper()
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(b.BootstrapAddress()),
		kgo.ConsumeTopics(outputTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	assert.NoError(t, err)
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []*kgo.Record
	for len(out) < n && ctx.Err() == nil {
		f := cl.PollFetches(ctx)
		out = append(out, f.Records()...)
	}
	return out
}

func TestWorkerForwardsInOrder(t *testing.T) {
	b := startBroker(t)
	ts := time.UnixMilli(1_700_000_000_000)
	produce(t, b,
		&kgo.Record{Topic: inputTopic, Key: []byte("k1"), Value: []byte("a"), Timestamp: ts,
			Headers: []kgo.RecordHeader{{Key: "trace", Value: []byte("1")}}},
		&kgo.Record{Topic: inputTopic, Value: []byte("b"), Timestamp: ts},
		&kgo.Record{Topic: inputTopic, Value: []byte("c"), Timestamp: ts},
	)

	w := newWorker(t, b, nil)
	errc := run(w)
	awaitReady(t, w)

	out := consume(t, b, 3)
	assert.Equal(t, 3, len(out))
	var values []string
	for _, r := range out {
		values = append(values, string(r.Value))
		assert.Equal(t, ts, r.Timestamp)
	}
	assert.Equal(t, []string{"a", "b", "c"}, values)
	assert.Equal(t, "k1", string(out[0].Key))
	assert.Equal(t, []kgo.RecordHeader{{Key: "trace", Value: []byte("1")}}, out[0].Headers)
	assert.Zero(t, out[1].Key)

	assert.NoError(t, w.Close())
	assert.NoError(t, <-errc)
}

func TestWorkerCommitsOnClose(t *testing.T) {
	b := startBroker(t)
	produce(t, b, &kgo.Record{Topic: inputTopic, Value: []byte("a")})

	w := newWorker(t, b, kconfig.Properties{kconfig.CommitIntervalMs: "60000"})
	errc := run(w)
	awaitReady(t, w)
	assert.Equal(t, 1, len(consume(t, b, 1)))
	assert.NoError(t, w.Close())
	assert.NoError(t, <-errc)

	// A second worker in the same group resumes after the committed record.
	produce(t, b, &kgo.Record{Topic: inputTopic, Value: []byte("b")})
	w2 := newWorker(t, b, nil)
	errc = run(w2)
	awaitReady(t, w2)

	out := consume(t, b, 2)
	assert.Equal(t, 2, len(out))
	assert.Equal(t, "b", string(out[1].Value))
	assert.NoError(t, w2.Close())
	assert.NoError(t, <-errc)
}

func TestWorkerProduceFailure(t *testing.T) {
	b := startBroker(t)
	produce(t, b, &kgo.Record{Topic: inputTopic, Value: []byte("a")})

	c := b.Cluster()
	c.ControlKey(int16(kmsg.Produce), func(req kmsg.Request) (kmsg.Response, error, bool) {
		c.KeepControl()
		preq := req.(*kmsg.ProduceRequest)
		for _, rt := range preq.Topics {
			if rt.Topic != outputTopic {
				return nil, nil, false
			}
		}
		resp := preq.ResponseKind().(*kmsg.ProduceResponse)
		for _, rt := range preq.Topics {
			st := kmsg.NewProduceResponseTopic()
			st.Topic = rt.Topic
			for _, rp := range rt.Partitions {
				sp := kmsg.NewProduceResponseTopicPartition()
				sp.Partition = rp.Partition
				sp.ErrorCode = kerr.TopicAuthorizationFailed.Code
				st.Partitions = append(st.Partitions, sp)
			}
			resp.Topics = append(resp.Topics, st)
		}
		return resp, nil, true
	})

	w := newWorker(t, b, kconfig.Properties{kconfig.DeliveryTimeoutMs: "2000"})
	errc := run(w)

	select {
	case err := <-errc:
		var fe *ForwardError
		assert.True(t, errors.As(err, &fe))
		assert.Equal(t, StageProduce, fe.Stage)
		assert.Equal(t, inputTopic, fe.Topic)
		assert.Equal(t, int64(0), fe.Offset)
	case <-time.After(15 * time.Second):
		t.Fatal("worker did not fail")
	}

	// Closing a failed worker returns immediately.
	assert.NoError(t, w.Close())
}

func TestWorkerCloseBeforeAssignment(t *testing.T) {
	b := startBroker(t)
	w := newWorker(t, b, nil)
	errc := run(w)

	assert.NoError(t, w.Close())
	assert.NoError(t, <-errc)
}

// TestWorker_DoubleClose verifies that calling Close() twice doesn't block or panic
func TestWorker_DoubleClose(t *testing.T) {
	b := startBroker(t)
	w := newWorker(t, b, nil)
	errc := run(w)
	awaitReady(t, w)

	assert.NoError(t, w.Close())

	done := make(chan struct{})
	go func() {
		_ = w.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Second Close() blocked")
	}
	assert.NoError(t, <-errc)
}

// TestWorker_ConcurrentClose verifies that concurrent Close() calls don't panic or deadlock
func TestWorker_ConcurrentClose(t *testing.T) {
	b := startBroker(t)
	w := newWorker(t, b, nil)
	errc := run(w)
	awaitReady(t, w)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Close())
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Concurrent Close() calls deadlocked")
	}
	assert.NoError(t, <-errc)
}

func TestAssignmentsCoalesce(t *testing.T) {
	a := newAssignments()

	// The loop is busy: nothing drains notify while the group callback fires.
	for p := range int32(10) {
		a.add(map[string][]int32{inputTopic: {p}})
	}
	a.add(map[string][]int32{inputTopic: {0, 3}, "other": {1}})

	select {
	case <-a.notify:
	default:
		t.Fatal("no notification after add")
	}
	select {
	case <-a.notify:
		t.Fatal("more than one pending notification")
	default:
	}

	got := a.take()
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got[inputTopic])
	assert.Equal(t, []int32{1}, got["other"])
	assert.Equal(t, 0, len(a.take()))
}

func TestAssignmentsConcurrentAdd(t *testing.T) {
	a := newAssignments()

	var wg sync.WaitGroup
	for p := range int32(50) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.add(map[string][]int32{inputTopic: {p}})
		}()
	}
	wg.Wait()

	<-a.notify
	assert.Equal(t, 50, len(a.take()[inputTopic]))
}
