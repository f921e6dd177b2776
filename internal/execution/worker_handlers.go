package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

func (r *Worker) handleCreated() {
	select {
	case <-r.assigned.notify:
		r.newlyAssigned = r.assigned.take()
		r.changeState(StatePartitionsAssigned)
	case <-r.closeRequested:
		r.changeState(StateCloseRequested)
	}
}

func (r *Worker) handlePartitionsAssigned() {
	r.log.Info("Partitions assigned", "partitions", r.newlyAssigned)
	owned := len(r.newlyAssigned[r.pipeline.Source()]) > 0
	r.newlyAssigned = nil

	if !owned {
		r.changeState(StateCreated)
		return
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.changeState(StateRunning)
}

func (r *Worker) handleRunning() {
	r.cancelPollMtx.Lock()

	select {
	case <-r.closeRequested:
		r.changeState(StateCloseRequested)
		r.cancelPollMtx.Unlock()
		return
	default:
	}

	select {
	case <-r.assigned.notify:
		r.newlyAssigned = r.assigned.take()
		r.changeState(StatePartitionsAssigned)
		r.cancelPollMtx.Unlock()
		return
	default:
	}

	pollCtx, cancel := context.WithTimeout(context.Background(), r.cfg.PollTimeout)
	defer cancel()
	r.cancelPoll = cancel

	r.cancelPollMtx.Unlock()

	f := r.client.PollFetches(pollCtx)

	if f.IsClientClosed() {
		r.changeState(StateCloseRequested)
		return
	}

	for _, fetchError := range f.Errors() {
		if errors.Is(fetchError.Err, context.DeadlineExceeded) || errors.Is(fetchError.Err, context.Canceled) {
			continue
		}
		r.fail(&ForwardError{
			Stage:     StageConsume,
			Topic:     fetchError.Topic,
			Partition: fetchError.Partition,
			Offset:    -1,
			Err:       fetchError.Err,
		})
		return
	}

	if f.NumRecords() > 0 {
		if err := r.forward(f); err != nil {
			r.fail(err)
			return
		}
	}

	if time.Since(r.lastSuccessfulCommit) >= r.cfg.CommitInterval {
		if err := r.commit(context.Background()); err != nil {
			r.fail(err)
			return
		}
	}
}

// forward republishes every record of f to the sink and waits until all of
// them are acknowledged.
func (r *Worker) forward(f kgo.Fetches) *ForwardError {
	var (
		mu       sync.Mutex
		firstErr *ForwardError
	)
	fail := func(err *ForwardError) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	sink := r.pipeline.Sink()
	iter := f.RecordIter()
	for !iter.Done() {
		src := iter.Next()
		r.metrics.Consumed.Inc()

		out, err := r.transform(src)
		if err != nil {
			fail(err)
			break
		}
		out.Topic = sink

		r.client.Produce(context.Background(), out, func(_ *kgo.Record, err error) {
			if err != nil {
				r.metrics.Errors.Inc()
				fail(&ForwardError{Stage: StageProduce, Topic: src.Topic, Partition: src.Partition, Offset: src.Offset, Err: err})
				return
			}
			r.metrics.Forwarded.Inc()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DeliveryTimeout)
	defer cancel()
	if err := r.client.Flush(ctx); err != nil {
		fail(&ForwardError{Stage: StageProduce, Topic: sink, Offset: -1, Err: err})
	}

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

// transform is the identity: the key and value are decoded and re-encoded
// with the configured codecs, headers are kept and the timestamp comes from
// the extractor.
func (r *Worker) transform(src *kgo.Record) (*kgo.Record, *ForwardError) {
	key, err := r.cfg.KeySerde.Decode(src.Key)
	if err != nil {
		return nil, &ForwardError{Stage: StageDecode, Topic: src.Topic, Partition: src.Partition, Offset: src.Offset, Err: err}
	}
	value, err := r.cfg.ValueSerde.Decode(src.Value)
	if err != nil {
		return nil, &ForwardError{Stage: StageDecode, Topic: src.Topic, Partition: src.Partition, Offset: src.Offset, Err: err}
	}

	k, err := r.cfg.KeySerde.Encode(key)
	if err != nil {
		return nil, &ForwardError{Stage: StageEncode, Topic: src.Topic, Partition: src.Partition, Offset: src.Offset, Err: err}
	}
	v, err := r.cfg.ValueSerde.Encode(value)
	if err != nil {
		return nil, &ForwardError{Stage: StageEncode, Topic: src.Topic, Partition: src.Partition, Offset: src.Offset, Err: err}
	}

	return &kgo.Record{
		Key:       k,
		Value:     v,
		Headers:   append([]kgo.RecordHeader(nil), src.Headers...),
		Timestamp: r.cfg.TimestampExtractor(src),
	}, nil
}

func (r *Worker) commit(ctx context.Context) *ForwardError {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
	defer cancel()
	if err := r.client.CommitUncommittedOffsets(ctx); err != nil {
		return &ForwardError{Stage: StageCommit, Topic: r.pipeline.Source(), Offset: -1, Err: err}
	}
	r.lastSuccessfulCommit = time.Now()
	return nil
}

func (r *Worker) fail(err *ForwardError) {
	r.log.Error(err.Err, "Forwarding failed, closing worker", "stage", err.Stage, "topic", err.Topic, "partition", err.Partition, "offset", err.Offset)
	r.err = err
	r.changeState(StateCloseRequested)
}

func (r *Worker) handleCloseRequested() {
	closeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()

	if err := r.client.Flush(closeCtx); err != nil {
		r.log.Error(err, "Failed to flush on close")
	}
	// Offsets of records that failed to forward must not be committed.
	if r.err == nil {
		if err := r.client.CommitUncommittedOffsets(closeCtx); err != nil {
			r.log.Error(err, "Failed to commit on close")
		}
	}

	r.client.Close()

	r.changeState(StateClosed)
}

func (r *Worker) handleClosed() {
	r.closed.Done()
}
