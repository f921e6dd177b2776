// Package kstream runs a pipeline as a streaming job: a background worker
// that consumes the source topic and republishes every record to the sink
// topic until the job is closed.
package kstream

import (
	"sync"

	"github.com/birdayz/kstreams-harness/internal/execution"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/kdag"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateCreated State = "CREATED"
	StateRunning State = "RUNNING"
	StateClosed  State = "CLOSED"
)

// Option is a function that configures a Job.
type Option func(*Job)

// WithLogr sets the logger.
var WithLogr = func(log logr.Logger) Option {
	return func(j *Job) {
		j.log = log
	}
}

// WithRegisterer registers the job's metrics on reg instead of a private
// registry.
var WithRegisterer = func(reg prometheus.Registerer) Option {
	return func(j *Job) {
		j.reg = reg
	}
}

// WithClientOpts appends raw franz-go options to the worker's client.
var WithClientOpts = func(opts ...kgo.Opt) Option {
	return func(j *Job) {
		j.clientOpts = append(j.clientOpts, opts...)
	}
}

// Job is the handle of a running pipeline.
type Job struct {
	pipeline   *kdag.Pipeline
	log        logr.Logger
	reg        prometheus.Registerer
	clientOpts []kgo.Opt
	metrics    *metrics

	mu     sync.Mutex
	state  State
	id     string
	worker *execution.Worker
	eg     *errgroup.Group
	err    error

	ready chan struct{}
	done  chan struct{}
}

func New(p *kdag.Pipeline, opts ...Option) (*Job, error) {
	if p == nil {
		return nil, ErrNoPipeline
	}
	j := &Job{
		pipeline: p,
		log:      logr.Discard(),
		state:    StateCreated,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.reg == nil {
		j.reg = prometheus.NewRegistry()
	}
	j.metrics = newMetrics(j.reg)
	return j, nil
}

// Start validates props and launches the worker. Configuration problems are
// returned before anything runs and leave the job startable.
func (j *Job) Start(props kconfig.Properties) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrJobClosed
	}

	cfg, err := kconfig.ParseStreams(props)
	if err != nil {
		return err
	}

	id := cfg.ApplicationID
	log := j.log.WithValues("job", id)
	w, err := execution.NewWorker(log.WithName("worker"), id+"-worker-0", j.pipeline, cfg, execution.WorkerConfig{
		Metrics:    j.metrics.worker(id),
		ClientOpts: j.clientOpts,
	})
	if err != nil {
		return &JobExecutionError{Job: id, Stage: "start", Offset: -1, Err: err}
	}

	j.id = id
	j.worker = w
	j.state = StateRunning
	j.metrics.running.WithLabelValues(id).Set(1)

	grp := &errgroup.Group{}
	j.eg = grp
	grp.Go(func() error {
		defer close(j.done)
		defer j.metrics.running.WithLabelValues(id).Set(0)
		if err := executionError(id, w.Run()); err != nil {
			j.mu.Lock()
			j.err = err
			j.mu.Unlock()
			return err
		}
		return nil
	})
	grp.Go(func() error {
		select {
		case <-w.Ready():
			close(j.ready)
		case <-j.done:
		}
		return nil
	})

	log.Info("Job started", "pipeline", j.pipeline.String())
	return nil
}

// Ready is closed once the job's worker owns the source partitions and
// records produced from then on will be forwarded.
func (j *Job) Ready() <-chan struct{} {
	return j.ready
}

// Done is closed once the worker has stopped, after Close or a failure.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the *JobExecutionError that stopped the worker, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Pipeline() *kdag.Pipeline {
	return j.pipeline
}

// Close stops the worker, waiting for outstanding records to be flushed and
// offsets committed. The first call returns the failure that stopped the
// worker, if any, or ErrShutdownTimeout. Later calls return nil.
func (j *Job) Close() error {
	j.mu.Lock()
	state := j.state
	j.state = StateClosed
	w, grp := j.worker, j.eg
	j.mu.Unlock()

	switch state {
	case StateCreated:
		close(j.done)
		return nil
	case StateClosed:
		return nil
	}

	if err := w.Close(); err != nil {
		j.log.Error(err, "Job did not shut down in time", "job", j.id)
		return multierr.Append(j.Err(), err)
	}
	err := grp.Wait()
	j.log.Info("Job closed", "job", j.id)
	return err
}
