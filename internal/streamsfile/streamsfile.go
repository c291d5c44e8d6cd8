// Package streamsfile implements the Config Store's (I) bulk stream-list
// import/export format: a single YAML document listing every camera
// source, used to seed a fresh installation or to back up the running
// stream set outside the catalog database.
package streamsfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensensor/lightnvr/internal/models"
)

// Document is the on-disk YAML shape: a flat list of streams under a
// single top-level key, so the format can grow other top-level sections
// later without breaking existing files.
type Document struct {
	Streams []Entry `yaml:"streams"`
}

// Entry is one stream's YAML representation. Field names are
// deliberately flatter than models.StreamDescriptor's embedded gorm
// structs, since this format is hand-edited by operators, not queried.
type Entry struct {
	Name             string `yaml:"name"`
	URI              string `yaml:"uri"`
	Enabled          bool   `yaml:"enabled"`
	Record           bool   `yaml:"record"`
	RetentionDays    int    `yaml:"retention_days"`
	RetentionPriority int   `yaml:"retention_priority"`
	DetectionEnabled bool   `yaml:"detection_enabled"`
	DetectionCooldownMS int64 `yaml:"detection_cooldown_ms,omitempty"`
}

// Load parses a streams YAML file into StreamDescriptors.
func Load(path string) ([]*models.StreamDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading streams file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing streams file: %w", err)
	}

	out := make([]*models.StreamDescriptor, 0, len(doc.Streams))
	for _, e := range doc.Streams {
		stream := &models.StreamDescriptor{
			Name:    e.Name,
			URI:     e.URI,
			Enabled: e.Enabled,
			Record:  e.Record,
			Retention: models.RetentionPolicy{
				MaxAgeSeconds: int64(e.RetentionDays) * 24 * 3600,
				Priority:      e.RetentionPriority,
			},
			Detection: models.DetectionPolicy{
				Enabled:    e.DetectionEnabled,
				CooldownMS: e.DetectionCooldownMS,
			},
		}
		if err := stream.Validate(); err != nil {
			return nil, fmt.Errorf("stream %q: %w", e.Name, err)
		}
		out = append(out, stream)
	}
	return out, nil
}

// Dump writes the given streams to path as YAML, for exporting the
// running Config Store's contents to a portable file.
func Dump(path string, streams []*models.StreamDescriptor) error {
	doc := Document{Streams: make([]Entry, 0, len(streams))}
	for _, s := range streams {
		doc.Streams = append(doc.Streams, Entry{
			Name:                s.Name,
			URI:                 s.URI,
			Enabled:             s.Enabled,
			Record:              s.Record,
			RetentionDays:       int(s.Retention.MaxAgeSeconds / (24 * 3600)),
			RetentionPriority:   s.Retention.Priority,
			DetectionEnabled:    s.Detection.Enabled,
			DetectionCooldownMS: s.Detection.CooldownMS,
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling streams file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing streams file: %w", err)
	}
	return nil
}
