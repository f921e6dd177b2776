// Package kconfig turns flat sets of named options into the typed
// configuration of the streaming job, the producer and the consumer.
package kconfig

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/birdayz/kstreams-harness/kserde"
	"github.com/birdayz/kstreams-harness/ktime"
)

// Option keys.
const (
	ApplicationID      = "application.id"
	BootstrapServers   = "bootstrap.servers"
	DefaultKeySerde    = "default.key.serde"
	DefaultValueSerde  = "default.value.serde"
	TimestampExtractor = "default.timestamp.extractor"
	AutoOffsetReset    = "auto.offset.reset"
	Retries            = "retries"
	DeliveryTimeoutMs  = "delivery.timeout.ms"
	CommitIntervalMs   = "commit.interval.ms"
	PollTimeoutMs      = "poll.timeout.ms"
	ShutdownTimeoutMs  = "shutdown.timeout.ms"
	Acks               = "acks"
	LingerMs           = "linger.ms"
	KeySerde           = "key.serde"
	ValueSerde         = "value.serde"
	GroupID            = "group.id"
	FetchMaxWaitMs     = "fetch.max.wait.ms"
)

// Properties is a flat set of named options.
type Properties map[string]string

// Clone returns a copy of p that can be modified independently.
func (p Properties) Clone() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// With returns a copy of p with key set to value.
func (p Properties) With(key, value string) Properties {
	c := p.Clone()
	c[key] = value
	return c
}

// Keys returns the option names in p, sorted.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OffsetReset is where a consumer without committed offsets starts reading.
type OffsetReset string

const (
	OffsetEarliest OffsetReset = "earliest"
	OffsetLatest   OffsetReset = "latest"
)

// reader walks Properties and records every problem it meets, so one Parse
// call reports all of them.
type reader struct {
	props   Properties
	allowed map[string]struct{}
	errs    []error
}

func newReader(props Properties, keys ...string) *reader {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	return &reader{props: props, allowed: allowed}
}

func (r *reader) fail(err error) {
	r.errs = append(r.errs, err)
}

// checkUnknown flags every key that is not in the allowed set.
func (r *reader) checkUnknown() {
	for _, k := range r.props.Keys() {
		if _, ok := r.allowed[k]; !ok {
			r.fail(unknown(k))
		}
	}
}

func (r *reader) value(key string, required bool, def string) string {
	v, ok := r.props[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		if required {
			r.fail(missing(key))
		}
		return def
	}
	return v
}

func (r *reader) brokers(key string) []string {
	raw := r.value(key, true, "")
	if raw == "" {
		return nil
	}
	var out []string
	bad := false
	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if i := strings.LastIndex(addr, ":"); i <= 0 || i == len(addr)-1 {
			r.fail(invalid(key, "address %q is not host:port", addr))
			bad = true
			continue
		}
		out = append(out, addr)
	}
	if len(out) == 0 && !bad {
		r.fail(invalid(key, "no broker address in %q", raw))
	}
	return out
}

func (r *reader) int(key string, def int) int {
	raw := r.value(key, false, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		r.fail(invalid(key, "%q is not a non-negative integer", raw))
		return def
	}
	return n
}

func (r *reader) millis(key string, def time.Duration) time.Duration {
	n := r.int(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func (r *reader) codec(key string, required bool, def string) kserde.Codec {
	name := r.value(key, required, def)
	if name == "" {
		return nil
	}
	c, err := kserde.Lookup(name)
	if err != nil {
		r.fail(invalid(key, "%v (known: %s)", err, strings.Join(kserde.Names(), ", ")))
		return nil
	}
	return c
}

func (r *reader) extractor(key string) ktime.Extractor {
	name := r.value(key, true, "")
	if name == "" {
		return nil
	}
	e, err := ktime.Lookup(name)
	if err != nil {
		r.fail(invalid(key, "%v", err))
		return nil
	}
	return e
}

func (r *reader) offsetReset(key string) OffsetReset {
	v := OffsetReset(strings.ToLower(r.value(key, false, string(OffsetEarliest))))
	switch v {
	case OffsetEarliest, OffsetLatest:
		return v
	default:
		r.fail(invalid(key, "%q is not one of earliest, latest", v))
		return OffsetEarliest
	}
}

