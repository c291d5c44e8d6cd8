package models

import "regexp"

var streamNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RetentionPolicy controls how long a stream's segments live before the
// Catalog's retention loop evicts them, and how they are weighed against
// other streams when storage is under quota pressure (§3, §4.6).
type RetentionPolicy struct {
	// MaxAgeSeconds is the hard age ceiling; 0 means no age-based eviction.
	MaxAgeSeconds int64 `json:"max_age_seconds"`
	// Priority is 1 (evict first) .. 10 (evict last) used to bias
	// oldest-first eviction when multiple streams compete for quota.
	Priority int `json:"priority"`
}

// DetectionPolicy controls whether and how often a stream's key frames are
// sampled and forwarded to the external detection collaborator (§5, D).
type DetectionPolicy struct {
	Enabled      bool  `json:"enabled"`
	CooldownMS   int64 `json:"cooldown_ms"`
}

// StreamDescriptor is the durable configuration record for one camera
// source, owned by the Config Store (I) and consumed by the Lifecycle
// Manager (G) to stand up the per-stream quartet of collaborators.
type StreamDescriptor struct {
	BaseModel

	Name    string `gorm:"uniqueIndex;not null" json:"name"`
	URI     string `gorm:"not null" json:"uri"`
	Enabled bool   `json:"enabled"`
	Record  bool   `json:"record"`

	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Codec  string `json:"codec"`

	Retention RetentionPolicy  `gorm:"embedded;embeddedPrefix:retention_" json:"retention"`
	Detection DetectionPolicy  `gorm:"embedded;embeddedPrefix:detection_" json:"detection"`
}

// TableName overrides gorm's pluralization to a stable, explicit name.
func (StreamDescriptor) TableName() string { return "streams" }

// Validate checks field-level invariants independent of any other row.
func (s *StreamDescriptor) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if !streamNamePattern.MatchString(s.Name) {
		return ErrInvalidName
	}
	if s.URI == "" {
		return ErrURIRequired
	}
	if s.Retention.Priority < 1 || s.Retention.Priority > 10 {
		return ErrInvalidPriority
	}
	return nil
}
