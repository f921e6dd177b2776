// Package ktime holds the strategies that decide which timestamp a forwarded
// record carries.
package ktime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrUnknownExtractor = errors.New("unknown timestamp extractor")

// Extractor returns the timestamp to stamp on the record produced for r.
type Extractor func(r *kgo.Record) time.Time

// RecordTime keeps the timestamp the source record already carries. Records
// without one fall back to wall clock time.
func RecordTime(r *kgo.Record) time.Time {
	if r.Timestamp.IsZero() {
		return time.Now()
	}
	return r.Timestamp
}

// WallClock stamps records with processing time.
func WallClock(*kgo.Record) time.Time {
	return time.Now()
}

var extractors = map[string]Extractor{
	"record":                      RecordTime,
	"log-append":                  RecordTime,
	"failoninvalidtimestamp":      RecordTime,
	"wallclock":                   WallClock,
	"systemtimestampextractor":    WallClock,
	"wallclocktimestampextractor": WallClock,
}

// Lookup resolves an extractor by name. JVM class names of the equivalent
// extractors are accepted.
func Lookup(name string) (Extractor, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(n, "."); i >= 0 {
		n = n[i+1:]
	}
	e, ok := extractors[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtractor, name)
	}
	return e, nil
}
