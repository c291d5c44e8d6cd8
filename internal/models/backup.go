package models

import "time"

// BackupMetadata represents a backup file's metadata.
// This is derived from filesystem scanning and the metadata.json entry
// inside each archive, not stored in the database.
type BackupMetadata struct {
	Filename       string      `json:"filename"`        // e.g., "lightnvr-backup-2026-07-29T10-30-00.000.tar.gz"
	FilePath       string      `json:"file_path"`       // Full path to backup file
	CreatedAt      time.Time   `json:"created_at"`      // Extracted from filename
	FileSize       int64       `json:"file_size"`       // Size in bytes
	Checksum       string      `json:"checksum"`        // SHA256 hash for integrity verification
	CoreVersion    string      `json:"core_version"`    // Version that created the backup (from metadata file)
	DatabaseSize   int64       `json:"database_size"`   // Uncompressed size
	CompressedSize int64       `json:"compressed_size"` // Gzip compressed size
	TableCounts    TableCounts `json:"table_counts"`    // Row counts per table
	Protected      bool        `json:"protected"`       // If true, excluded from retention cleanup
	Imported       bool        `json:"imported"`        // If true, backup was uploaded/imported
}

// TableCounts holds row counts for key tables in a backup.
type TableCounts struct {
	Streams         int `json:"streams"`
	Segments        int `json:"segments"`
	DetectionEvents int `json:"detection_events"`
}

// BackupMetadataFile is the structure stored as metadata.json inside each backup archive.
type BackupMetadataFile struct {
	CoreVersion    string         `json:"core_version"`
	DatabaseSize   int64          `json:"database_size"`   // Uncompressed size
	CompressedSize int64          `json:"compressed_size"` // Gzip compressed size
	Checksum       string         `json:"checksum"`        // SHA256 of the .tar.gz archive as first written, before this field was set
	CreatedAt      time.Time      `json:"created_at"`
	TableCounts    map[string]int `json:"table_counts"` // Row counts per table
	Protected      bool           `json:"protected"`    // If true, excluded from retention cleanup
	Imported       bool           `json:"imported"`     // If true, backup was uploaded/imported
}

// ToTableCounts converts the map-based table counts to the structured TableCounts type.
func (m *BackupMetadataFile) ToTableCounts() TableCounts {
	return TableCounts{
		Streams:         m.TableCounts["streams"],
		Segments:        m.TableCounts["segments"],
		DetectionEvents: m.TableCounts["detection_events"],
	}
}

// BackupScheduleInfo represents the backup schedule configuration for API responses.
type BackupScheduleInfo struct {
	Enabled   bool    `json:"enabled"`
	Cron      string  `json:"cron"`
	Retention int     `json:"retention"`
	NextRun   *string `json:"next_run,omitempty"`
}

// BackupSettings stores user-configurable backup settings in the database.
// This is a singleton table (only one row with ID=1).
type BackupSettings struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	Enabled   *bool  `gorm:"default:null" json:"enabled"`
	Cron      string `gorm:"size:100" json:"cron,omitempty"`
	Retention *int   `gorm:"default:null" json:"retention,omitempty"`
}

// TableName returns the table name for BackupSettings.
func (BackupSettings) TableName() string {
	return "backup_settings"
}

// ToScheduleInfo converts BackupSettings to BackupScheduleInfo, using defaults for nil values.
func (s *BackupSettings) ToScheduleInfo(defaultEnabled bool, defaultCron string, defaultRetention int) BackupScheduleInfo {
	enabled := defaultEnabled
	if s != nil && s.Enabled != nil {
		enabled = *s.Enabled
	}

	cron := defaultCron
	if s != nil && s.Cron != "" {
		cron = s.Cron
	}

	retention := defaultRetention
	if s != nil && s.Retention != nil {
		retention = *s.Retention
	}

	return BackupScheduleInfo{
		Enabled:   enabled,
		Cron:      cron,
		Retention: retention,
	}
}
