package kconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a harness run:
//
//	streams:
//	  application.id: noop-test-streams
//	  default.key.serde: string
//	producer:
//	  acks: all
//	verify:
//	  interval: 100ms
//	  budget: 2s
//	  settle: 1s
//
// bootstrap.servers may be omitted from every section; the harness fills it
// in with the address of the broker it started.
type File struct {
	Streams  Properties `yaml:"streams"`
	Producer Properties `yaml:"producer"`
	Consumer Properties `yaml:"consumer"`
	Verify   Verify     `yaml:"verify"`
}

// Verify holds the timing of the verification loop.
type Verify struct {
	Interval Duration `yaml:"interval"`
	Budget   Duration `yaml:"budget"`
	Settle   Duration `yaml:"settle"`
}

// Duration accepts Go duration strings ("100ms") or integer milliseconds
// in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a File from path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a File from YAML. Unknown top-level sections are rejected.
func Parse(raw []byte) (*File, error) {
	var f File
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for section := range probe {
		switch section {
		case "streams", "producer", "consumer", "verify":
		default:
			return nil, unknown(section)
		}
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}
