package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/birdayz/kstreams-harness/kclient"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/kdag"
	"github.com/birdayz/kstreams-harness/kstream"
	"github.com/birdayz/kstreams-harness/kverify"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
)

// PassThrough describes one run. Zero fields take the defaults of the
// classic noop test.
type PassThrough struct {
	JobID       string
	InputTopic  string
	OutputTopic string
	// ConsumerGroup reads the output; a unique group is used if empty.
	ConsumerGroup string
	Values        []string

	// Streams, Producer and Consumer override single options of the
	// harness defaults.
	Streams  kconfig.Properties
	Producer kconfig.Properties
	Consumer kconfig.Properties

	// JobOptions are passed to the job's client, for fault injection.
	JobOptions []kgo.Opt
}

func (p *PassThrough) defaults() {
	if p.JobID == "" {
		p.JobID = "noop-test-streams"
	}
	if p.InputTopic == "" {
		p.InputTopic = "inputTopic"
	}
	if p.OutputTopic == "" {
		p.OutputTopic = "outputTopic"
	}
	if p.ConsumerGroup == "" {
		p.ConsumerGroup = fmt.Sprintf("%s-standard-consumer-%s", p.JobID, uuid.NewString())
	}
}

// Report is the outcome of a run that got as far as verification.
type Report struct {
	JobID  string
	Input  []string
	Acks   []kclient.Ack
	Result kverify.Result[string]
}

// Check reports whether the output equals the input, value for value and in
// order.
func (r *Report) Check() error {
	return r.Result.Check(r.Input)
}

// RunPassThrough starts a job forwarding InputTopic to OutputTopic, produces
// Values, closes the job and polls OutputTopic. Setup, configuration, send
// and job failures are returned as errors before any verification; a
// mismatch is not an error, see Report.Check.
func (h *Harness) RunPassThrough(ctx context.Context, pt PassThrough) (*Report, error) {
	pt.defaults()
	log := h.log.WithValues("job", pt.JobID)

	for _, topic := range []string{pt.InputTopic, pt.OutputTopic} {
		if err := h.CreateTopic(ctx, topic); err != nil {
			return nil, err
		}
	}

	p, err := kdag.PassThrough(pt.JobID, pt.InputTopic, pt.OutputTopic)
	if err != nil {
		return nil, err
	}

	job, err := kstream.New(p,
		kstream.WithLogr(log.WithName("job")),
		kstream.WithRegisterer(h.reg),
		kstream.WithClientOpts(pt.JobOptions...),
	)
	if err != nil {
		return nil, err
	}
	if err := job.Start(merge(h.StreamsConfig(pt.JobID), pt.Streams)); err != nil {
		return nil, err
	}

	if err := h.awaitReady(ctx, job); err != nil {
		return nil, multierr.Append(err, job.Close())
	}

	// The output topic may hold records of earlier runs.
	base, err := h.broker.EndOffset(ctx, pt.OutputTopic)
	if err != nil {
		return nil, multierr.Append(err, job.Close())
	}

	acks, err := h.produce(ctx, pt)
	if err != nil {
		return nil, multierr.Append(err, job.Close())
	}

	var want int64
	if len(pt.Values) > 0 {
		want = base + int64(len(pt.Values))
	}
	h.awaitOutput(ctx, job, pt.OutputTopic, want)

	if err := job.Close(); err != nil {
		return nil, err
	}

	result, err := h.verify(ctx, pt, base)
	if err != nil {
		return nil, err
	}

	return &Report{
		JobID:  pt.JobID,
		Input:  pt.Values,
		Acks:   acks,
		Result: result,
	}, nil
}

// awaitReady waits for the job to own its source partition, at most the
// settle delay. Input produced before that is still read from the earliest
// offset.
func (h *Harness) awaitReady(ctx context.Context, job *kstream.Job) error {
	timer := time.NewTimer(h.settle)
	defer timer.Stop()

	select {
	case <-job.Ready():
		return nil
	case <-job.Done():
		return job.Err()
	case <-timer.C:
		h.log.Info("Job not ready after settle delay, producing anyway", "delay", h.settle)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Harness) produce(ctx context.Context, pt PassThrough) ([]kclient.Ack, error) {
	producer, err := kclient.NewProducer(merge(h.ProducerConfig(), pt.Producer),
		kclient.WithLogr(h.log.WithName("producer")),
		kclient.WithClientID(pt.JobID+"-producer"),
	)
	if err != nil {
		return nil, err
	}
	defer producer.Close()

	acks := make([]kclient.Ack, 0, len(pt.Values))
	for _, v := range pt.Values {
		h.log.V(1).Info("Producing", "topic", pt.InputTopic, "value", v)
		ack, err := producer.Send(ctx, pt.InputTopic, v)
		if err != nil {
			return nil, err
		}
		acks = append(acks, ack)
	}
	if err := producer.Flush(ctx); err != nil {
		return nil, err
	}
	return acks, nil
}

// awaitOutput gives the job up to the settle delay to forward its input,
// returning early once the output topic reaches offset want or the job
// stopped. A zero want waits the full delay.
func (h *Harness) awaitOutput(ctx context.Context, job *kstream.Job, topic string, want int64) {
	ctx, cancel := context.WithTimeout(ctx, h.settle)
	defer cancel()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		end, err := h.broker.EndOffset(ctx, topic)
		if err == nil && want > 0 && end >= want {
			return
		}
		select {
		case <-ticker.C:
		case <-job.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// verify reads OutputTopic from offset from, where this run's output
// begins.
func (h *Harness) verify(ctx context.Context, pt PassThrough, from int64) (kverify.Result[string], error) {
	consumer, err := kclient.NewConsumer(merge(h.ConsumerConfig(pt.ConsumerGroup), pt.Consumer),
		kclient.WithLogr(h.log.WithName("consumer")),
		kclient.WithStartOffset(from),
	)
	if err != nil {
		return kverify.Result[string]{}, err
	}
	defer consumer.Close()

	if err := consumer.Subscribe(pt.OutputTopic); err != nil {
		return kverify.Result[string]{}, err
	}

	poll := func(ctx context.Context, timeout time.Duration) ([]string, error) {
		records, err := consumer.Poll(ctx, timeout)
		for _, r := range records {
			h.log.V(1).Info("Received", "offset", r.Offset, "key", r.Key, "value", r.Value)
		}
		values, verr := kclient.Values[string](records)
		return values, multierr.Append(err, verr)
	}

	return kverify.Run(ctx, poll, len(pt.Values),
		kverify.WithInterval(h.interval),
		kverify.WithBudget(h.budget),
		kverify.WithLogr(h.log.WithName("verify")),
	), nil
}
