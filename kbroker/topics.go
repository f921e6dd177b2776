package kbroker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
)

// TopicRegistry creates topics through an admin client and remembers which
// ones it created during this run.
type TopicRegistry struct {
	adm *kadm.Client

	// Partitions and ReplicationFactor of newly created topics.
	Partitions        int32
	ReplicationFactor int16

	mu      sync.Mutex
	created map[string]struct{}
}

func NewTopicRegistry(adm *kadm.Client) *TopicRegistry {
	return &TopicRegistry{
		adm:               adm,
		Partitions:        1,
		ReplicationFactor: 1,
		created:           make(map[string]struct{}),
	}
}

// Ensure creates topic unless it already exists.
func (r *TopicRegistry) Ensure(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return &TopicCreationError{Topic: topic, Err: ErrEmptyTopic}
	}

	resps, err := r.adm.CreateTopics(ctx, r.Partitions, r.ReplicationFactor, nil, topic)
	if err != nil {
		return &TopicCreationError{Topic: topic, Err: err}
	}
	resp, ok := resps[topic]
	if !ok {
		return &TopicCreationError{Topic: topic, Err: errors.New("broker did not answer for topic")}
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return &TopicCreationError{Topic: topic, Err: resp.Err}
	}

	r.mu.Lock()
	r.created[topic] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Names returns the topics ensured so far, sorted.
func (r *TopicRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.created))
	for name := range r.created {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EndOffset returns the high watermark of partition 0 of topic.
func (r *TopicRegistry) EndOffset(ctx context.Context, topic string) (int64, error) {
	offsets, err := r.adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return 0, err
	}
	o, ok := offsets.Lookup(topic, 0)
	if !ok {
		return 0, fmt.Errorf("no offsets for topic %q", topic)
	}
	if o.Err != nil {
		return 0, o.Err
	}
	return o.Offset, nil
}
