package models

import "time"

// Segment is the Catalog's durable record of one fMP4 file written by the
// MP4 Segmenter (B). The Segmenter inserts the row once, after the file
// has been fsynced and closed, with Complete already true (§4, §4.3).
// Readers must never be served a row with Complete=false except
// through the live-tail path, which the HTTP collaborator is responsible
// for distinguishing.
type Segment struct {
	BaseModel

	StreamID string `gorm:"index;not null" json:"stream_id"`

	Path   string `gorm:"not null" json:"path"`
	Codec  string `json:"codec"`

	StartTime time.Time `gorm:"index" json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Bytes  int64 `json:"bytes"`
	Frames int64 `json:"frames"`

	// Complete is true on every row the Segmenter inserts, since it
	// inserts only after the trailing moof/mdat pair is flushed and
	// fsynced; a crash mid-write leaves a file with no row. A row with
	// Complete=false arises only through MarkComplete, and the vacuum
	// pass tombstones such a row once its file is missing (§4.6).
	Complete bool `json:"complete"`

	// HasDetection is a denormalized marker set when at least one
	// DetectionEvent references this segment, letting the catalog answer
	// "segments with detections" without a join for the common query.
	HasDetection bool `json:"has_detection"`

	// Tombstoned marks a segment whose file has been deleted from disk
	// (by retention or the vacuum pass) but whose row is
	// kept briefly for audit/backup-export purposes before a later vacuum
	// removes it outright.
	Tombstoned bool `json:"tombstoned"`
}

// TableName overrides gorm's pluralization to a stable, explicit name.
func (Segment) TableName() string { return "segments" }

// Duration returns the wall-clock span the segment covers.
func (s *Segment) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
