package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sukirti1329/s3-system/internal/shared/env"
)

const (
	TopicBucket   = "bucket"
	TopicObject   = "object"
	TopicMetadata = "metadata"
)

// Topics maps a logical topic key to the physical bus topic.
type Topics map[string]string

func DefaultTopics() Topics {
	return Topics{
		TopicBucket:   "s3.bucket.events",
		TopicObject:   "s3.object.events",
		TopicMetadata: "s3.metadata.events",
	}
}

type topicsFile struct {
	Topics map[string]string `yaml:"topics"`
}

// LoadTopics starts from the defaults, overlays the YAML file at path (if any)
// and then KAFKA_TOPIC_<KEY> variables.
func LoadTopics(path string) (Topics, error) {
	out := DefaultTopics()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read events config %s: %w", path, err)
		}
		var f topicsFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse events config %s: %w", path, err)
		}
		for k, v := range f.Topics {
			if v == "" {
				return nil, fmt.Errorf("events config %s: empty topic for %q", path, k)
			}
			out[k] = v
		}
	}

	var e env.Reader
	out[TopicBucket] = e.String("KAFKA_TOPIC_BUCKET", out[TopicBucket])
	out[TopicObject] = e.String("KAFKA_TOPIC_OBJECT", out[TopicObject])
	out[TopicMetadata] = e.String("KAFKA_TOPIC_METADATA", out[TopicMetadata])

	return out, nil
}

// Resolve returns the physical topic for key.
func (t Topics) Resolve(key string) (string, bool) {
	v, ok := t[key]
	return v, ok && v != ""
}

// Names returns the physical topics for keys, skipping unknown ones.
func (t Topics) Names(keys ...string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := t.Resolve(k); ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
