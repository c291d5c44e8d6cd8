package models

import "time"

// BoundingBox is a normalized [0,1] axis-aligned box (x, y, width, height)
// relative to the source frame: the core never decodes pixels and so
// has no native frame size to report boxes in pixel space against.
type BoundingBox [4]float64

// DetectionEvent is the Catalog's durable record of one detection result
// returned by the external detection collaborator for a key-frame sample
// forwarded by the Detection Tap (D). It is always parented to the
// segment that was open at the sampled timestamp.
type DetectionEvent struct {
	BaseModel

	StreamID  string `gorm:"index;not null" json:"stream_id"`
	SegmentID string `gorm:"index;not null" json:"segment_id"`

	Timestamp  time.Time   `gorm:"index" json:"timestamp"`
	Label      string      `gorm:"index" json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `gorm:"serializer:json" json:"bbox"`
}

// TableName overrides gorm's pluralization to a stable, explicit name.
func (DetectionEvent) TableName() string { return "detection_events" }
