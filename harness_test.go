package harness

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/kstreams-harness/kbroker"
	"github.com/birdayz/kstreams-harness/kclient"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/birdayz/kstreams-harness/kstream"
	"github.com/birdayz/kstreams-harness/kverify"
	"github.com/go-logr/logr/testr"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

var inputLines = []string{
	"hello world",
	"the world is not enough",
	"the world of the stock market is coming to an end",
}

func TestPassThrough(t *testing.T) {
	h := NewTesting(t, WithLogr(testr.New(t)))

	report, err := h.RunPassThrough(context.Background(), PassThrough{Values: inputLines})
	assert.NoError(t, err)
	assert.NoError(t, report.Check())
	assert.Equal(t, kverify.StateSatisfied, report.Result.State)
	assert.Equal(t, inputLines, report.Result.Observed)
	assert.Equal(t, "noop-test-streams", report.JobID)

	assert.Equal(t, 3, len(report.Acks))
	for i, ack := range report.Acks {
		assert.Equal(t, "inputTopic", ack.Topic)
		assert.Equal(t, int64(i), ack.Offset)
	}
}

func TestPassThroughLongBudget(t *testing.T) {
	h := NewTesting(t, WithLogr(testr.New(t)), WithBudget(10*time.Second))

	report, err := h.RunPassThrough(context.Background(), PassThrough{Values: inputLines})
	assert.NoError(t, err)
	assert.NoError(t, report.Check())
	assert.Equal(t, inputLines, report.Result.Observed)
}

func TestPassThroughReusedHarness(t *testing.T) {
	h := NewTesting(t, WithLogr(testr.New(t)))
	ctx := context.Background()

	first, err := h.RunPassThrough(ctx, PassThrough{Values: []string{"a", "b"}})
	assert.NoError(t, err)
	assert.NoError(t, first.Check())
	assert.Equal(t, []string{"a", "b"}, first.Result.Observed)

	second, err := h.RunPassThrough(ctx, PassThrough{Values: []string{"c", "d"}})
	assert.NoError(t, err)
	assert.NoError(t, second.Check())
	assert.Equal(t, []string{"c", "d"}, second.Result.Observed)
	assert.Equal(t, int64(2), second.Acks[0].Offset)

	end, err := h.Broker().EndOffset(ctx, "outputTopic")
	assert.NoError(t, err)
	assert.Equal(t, int64(4), end)
}

func TestPassThroughEmptyInput(t *testing.T) {
	h := NewTesting(t,
		WithLogr(testr.New(t)),
		WithSettleDelay(200*time.Millisecond),
		WithBudget(500*time.Millisecond),
	)

	start := time.Now()
	report, err := h.RunPassThrough(context.Background(), PassThrough{})
	assert.NoError(t, err)
	assert.Equal(t, kverify.StateTimedOut, report.Result.State)
	assert.Equal(t, []string{}, report.Result.Observed)
	assert.Equal(t, 500*time.Millisecond, report.Result.Elapsed)
	assert.NoError(t, report.Check())
	assert.True(t, time.Since(start) < 10*time.Second)
}

func TestPassThroughBrokerUnavailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	dead := l.Addr().String()
	assert.NoError(t, l.Close())

	h := NewTesting(t, WithLogr(testr.New(t)), WithSettleDelay(200*time.Millisecond))

	report, err := h.RunPassThrough(context.Background(), PassThrough{
		Values: inputLines,
		Producer: kconfig.Properties{
			kconfig.BootstrapServers:  dead,
			kconfig.DeliveryTimeoutMs: "1500",
		},
	})
	var se *kclient.SendError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "inputTopic", se.Topic)
	assert.Zero(t, report)
}

func TestCreateTopicIdempotent(t *testing.T) {
	h := NewTesting(t, WithLogr(testr.New(t)))
	ctx := context.Background()

	assert.NoError(t, h.CreateTopic(ctx, "inputTopic"))
	assert.NoError(t, h.CreateTopic(ctx, "outputTopic"))

	report, err := h.RunPassThrough(ctx, PassThrough{Values: inputLines})
	assert.NoError(t, err)
	assert.NoError(t, report.Check())

	assert.NoError(t, h.CreateTopic(ctx, "outputTopic"))
	end, err := h.Broker().EndOffset(ctx, "outputTopic")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), end)
	assert.Equal(t, []string{"inputTopic", "outputTopic"}, h.Broker().Topics())
}

func TestPassThroughJobFailure(t *testing.T) {
	b := &kbroker.Embedded{Log: testr.New(t)}
	h := NewTesting(t, WithBroker(b), WithLogr(testr.New(t)))

	c := b.Cluster()
	c.ControlKey(int16(kmsg.Produce), func(req kmsg.Request) (kmsg.Response, error, bool) {
		c.KeepControl()
		preq := req.(*kmsg.ProduceRequest)
		for _, rt := range preq.Topics {
			if rt.Topic != "outputTopic" {
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

	_, err := h.RunPassThrough(context.Background(), PassThrough{
		Values:  inputLines,
		Streams: kconfig.Properties{kconfig.DeliveryTimeoutMs: "2000"},
	})
	var je *kstream.JobExecutionError
	assert.True(t, errors.As(err, &je))
	assert.Equal(t, "noop-test-streams", je.Job)
	assert.Equal(t, "produce", je.Stage)
}

func TestPassThroughInvalidConfig(t *testing.T) {
	h := NewTesting(t)

	_, err := h.RunPassThrough(context.Background(), PassThrough{
		Values:  inputLines,
		Streams: kconfig.Properties{"num.stream.threads": "2"},
	})
	var ce *kconfig.ConfigurationError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "num.stream.threads", ce.Key)
}

func TestStop(t *testing.T) {
	h := New()
	assert.NoError(t, h.Stop())

	h = New(WithLogr(testr.New(t)))
	assert.NoError(t, h.Start(context.Background()))
	addr := h.BootstrapAddress()
	assert.NotEqual(t, "", addr)
	assert.Equal(t, addr, h.StreamsConfig("job")[kconfig.BootstrapServers])
	assert.Equal(t, "g", h.ConsumerConfig("g")[kconfig.GroupID])
	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop())
}
