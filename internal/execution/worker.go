// Package execution runs the forwarding loop behind a streaming job.
package execution

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/birdayz/kstreams-harness/internal/klog"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/kdag"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
)

type RoutineState string

const (
	StateCreated            RoutineState = "CREATED"
	StatePartitionsAssigned RoutineState = "PARTITIONS_ASSIGNED"
	StateRunning            RoutineState = "RUNNING"
	StateCloseRequested     RoutineState = "CLOSE_REQUESTED"
	StateClosed             RoutineState = "CLOSED"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Stage names the step of the forwarding loop that failed.
type Stage string

const (
	StageConsume Stage = "consume"
	StageDecode  Stage = "decode"
	StageEncode  Stage = "encode"
	StageProduce Stage = "produce"
	StageCommit  Stage = "commit"
)

// ForwardError is a failure that ended the worker. Topic, Partition and
// Offset locate the source record involved, when there is one.
type ForwardError struct {
	Stage     Stage
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *ForwardError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s %s[%d]: %v", e.Stage, e.Topic, e.Partition, e.Err)
	}
	return fmt.Sprintf("%s %s[%d]@%d: %v", e.Stage, e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// Metrics are the counters a worker updates. Nil fields are replaced by
// unregistered counters.
type Metrics struct {
	Consumed  prometheus.Counter
	Forwarded prometheus.Counter
	Errors    prometheus.Counter
}

func (m *Metrics) defaults() {
	if m.Consumed == nil {
		m.Consumed = prometheus.NewCounter(prometheus.CounterOpts{Name: "consumed"})
	}
	if m.Forwarded == nil {
		m.Forwarded = prometheus.NewCounter(prometheus.CounterOpts{Name: "forwarded"})
	}
	if m.Errors == nil {
		m.Errors = prometheus.NewCounter(prometheus.CounterOpts{Name: "errors"})
	}
}

// WorkerConfig holds the knobs of a Worker that do not come from
// kconfig.StreamsConfig.
type WorkerConfig struct {
	Metrics Metrics
	// ClientOpts are appended to the options derived from configuration.
	ClientOpts []kgo.Opt
}

// Worker consumes the pipeline's source topic as a member of the
// application's consumer group and republishes every record to the sink
// topic, in read order, on the same client.
type Worker struct {
	log      logr.Logger
	name     string
	pipeline *kdag.Pipeline
	cfg      kconfig.StreamsConfig
	metrics  Metrics

	client *kgo.Client

	state RoutineState

	assigned      *assignments
	newlyAssigned map[string][]int32
	ready         chan struct{}
	readyOnce     sync.Once

	closeRequested chan struct{}

	cancelPollMtx sync.Mutex
	cancelPoll    func()

	closed    sync.WaitGroup
	closeOnce sync.Once

	lastSuccessfulCommit time.Time

	err error
}

// assignments collects partitions handed over by the group callback until the
// loop picks them up. The callback never blocks and nothing is dropped.
type assignments struct {
	mu      sync.Mutex
	pending map[string][]int32
	notify  chan struct{}
}

func newAssignments() *assignments {
	return &assignments{notify: make(chan struct{}, 1)}
}

func (a *assignments) add(m map[string][]int32) {
	a.mu.Lock()
	if a.pending == nil {
		a.pending = make(map[string][]int32, len(m))
	}
	for topic, partitions := range m {
		for _, p := range partitions {
			if !slices.Contains(a.pending[topic], p) {
				a.pending[topic] = append(a.pending[topic], p)
			}
		}
	}
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// take returns and clears everything added since the last call.
func (a *assignments) take() map[string][]int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.pending
	a.pending = nil
	return m
}

// NewWorker creates the group client. Nothing is fetched before Run.
func NewWorker(log logr.Logger, name string, p *kdag.Pipeline, cfg kconfig.StreamsConfig, wc WorkerConfig) (*Worker, error) {
	wc.Metrics.defaults()

	assigned := newAssignments()

	reset := kgo.NewOffset().AtStart()
	if cfg.OffsetReset == kconfig.OffsetLatest {
		reset = kgo.NewOffset().AtEnd()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.WithLogger(klog.Client(log.WithName("client"))),
		kgo.ClientID(name),
		kgo.ConsumerGroup(cfg.ApplicationID),
		kgo.ConsumeTopics(p.Source()),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.RecordRetries(cfg.Retries),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			assigned.add(m)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			log.V(1).Info("Partitions revoked", "partitions", m)
		}),
	}
	opts = append(opts, wc.ClientOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		log:            log.WithValues("worker", name),
		name:           name,
		pipeline:       p,
		cfg:            cfg,
		metrics:        wc.Metrics,
		client:         client,
		state:          StateCreated,
		assigned:       assigned,
		ready:          make(chan struct{}),
		closeRequested: make(chan struct{}, 1),
	}

	w.closed.Add(1)
	return w, nil
}

// Ready is closed once the worker owns partitions of the source topic.
func (r *Worker) Ready() <-chan struct{} {
	return r.ready
}

func (r *Worker) changeState(newState RoutineState) {
	r.log.V(1).Info("Change state", "from", r.state, "to", newState)
	r.state = newState
}

// Run drives the loop until Close is called or a failure ends it. The
// returned error is a *ForwardError, or nil after a clean shutdown.
func (r *Worker) Run() error {
	return r.Loop()
}

// State transitions may only be done from within the loop
func (r *Worker) Loop() error {
	for {
		switch r.state {
		case StateCreated:
			r.handleCreated()
		case StatePartitionsAssigned:
			r.handlePartitionsAssigned()
		case StateRunning:
			r.handleRunning()
		case StateCloseRequested:
			r.handleCloseRequested()
		case StateClosed:
			r.handleClosed()
			return r.err
		}
	}
}

// Close stops the loop, cancelling an in-flight poll, and waits for the
// worker to drain at most the configured shutdown timeout. It may be
// called any number of times, from any goroutine.
func (r *Worker) Close() error {
	r.closeOnce.Do(func() {
		r.cancelPollMtx.Lock()
		select {
		case r.closeRequested <- struct{}{}:
		default:
		}
		if r.cancelPoll != nil {
			r.cancelPoll()
		}
		r.cancelPollMtx.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.closed.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(r.cfg.ShutdownTimeout):
		r.log.Error(ErrShutdownTimeout, "Shutdown timeout exceeded", "timeout", r.cfg.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}
