package kstream

import (
	"errors"
	"fmt"

	"github.com/birdayz/kstreams-harness/internal/execution"
)

var (
	ErrAlreadyStarted  = errors.New("job already started")
	ErrJobClosed       = errors.New("job closed")
	ErrNoPipeline      = errors.New("job needs a pipeline")
	ErrShutdownTimeout = execution.ErrShutdownTimeout
)

// JobExecutionError reports the failure that stopped a running job. Offset
// is -1 when the failure is not tied to a single record.
type JobExecutionError struct {
	Job       string
	Stage     string
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *JobExecutionError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("job %q: %s %s[%d]: %v", e.Job, e.Stage, e.Topic, e.Partition, e.Err)
	}
	return fmt.Sprintf("job %q: %s %s[%d]@%d: %v", e.Job, e.Stage, e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

func executionError(job string, err error) error {
	if err == nil {
		return nil
	}
	var fe *execution.ForwardError
	if errors.As(err, &fe) {
		return &JobExecutionError{
			Job:       job,
			Stage:     string(fe.Stage),
			Topic:     fe.Topic,
			Partition: fe.Partition,
			Offset:    fe.Offset,
			Err:       fe.Err,
		}
	}
	return &JobExecutionError{Job: job, Stage: "run", Offset: -1, Err: err}
}
