package ktime

import (
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestLookup(t *testing.T) {
	ts := time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &kgo.Record{Timestamp: ts}

	t.Run("record keeps source timestamp", func(t *testing.T) {
		e, err := Lookup("record")
		assert.NoError(t, err)
		assert.Equal(t, ts, e(rec))
	})

	t.Run("jvm system extractor is wall clock", func(t *testing.T) {
		e, err := Lookup("io.confluent.examples.streams.utils.SystemTimestampExtractor")
		assert.NoError(t, err)
		before := time.Now()
		got := e(rec)
		assert.False(t, got.Before(before))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Lookup("event-time-from-json")
		assert.True(t, errors.Is(err, ErrUnknownExtractor))
	})
}

func TestRecordTimeWithoutTimestamp(t *testing.T) {
	before := time.Now()
	got := RecordTime(&kgo.Record{})
	assert.False(t, got.Before(before))
}
