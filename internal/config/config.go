// Package config provides configuration management for lightnvr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultMaxOpenConns       = 6
	defaultMaxIdleConns       = 3
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultMaxStorageBytes    = 100 * 1024 * 1024 * 1024 // 100GB
	defaultRetentionDays      = 14
	defaultBufferKB           = 8 * 1024 // 8MB ring per stream
	defaultSegmentSeconds     = 900
	defaultSegmentMaxBytes    = 512 * 1024 * 1024 // 512MB
	defaultHLSWindowSegments  = 6
	defaultHLSSegmentDuration = 4 * time.Second
	defaultDetectionCooldown  = 5 * time.Second
	defaultReconnectMinDelay  = 1 * time.Second
	defaultReconnectMaxDelay  = 30 * time.Second
	defaultStallTimeout       = 15 * time.Second
	defaultDrainDeadline      = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ring      RingConfig      `mapstructure:"ring"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
	HLS       HLSConfig       `mapstructure:"hls"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Detection DetectionConfig `mapstructure:"detection"`
	Retention RetentionConfig `mapstructure:"retention"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Backup    BackupConfig    `mapstructure:"backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	AuthEnabled     bool          `mapstructure:"auth_enabled"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds recording storage configuration.
type StorageConfig struct {
	BaseDir        string   `mapstructure:"base_dir"`
	SegmentsDir    string   `mapstructure:"segments_dir"`
	TempDir        string   `mapstructure:"temp_dir"`
	// MaxStorage is the hard quota across all streams' recordings.
	// Supports human-readable values like "100GB", or raw byte counts.
	MaxStorage ByteSize `mapstructure:"max_storage"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RingConfig holds Packet Ring (A) sizing configuration, per stream.
type RingConfig struct {
	// CapacityBytes bounds a single stream's ring, after which the oldest
	// unreleased packets are dropped and lagged consumers are notified.
	CapacityBytes ByteSize `mapstructure:"capacity_bytes"`
}

// SegmenterConfig holds MP4 Segmenter (B) configuration.
type SegmenterConfig struct {
	// TargetDuration is the nominal wall-clock length of a segment before
	// the segmenter rotates onto the next key frame boundary.
	TargetDuration time.Duration `mapstructure:"target_duration"`
	// MaxBytes caps a single segment file's size; reaching it rotates the
	// segment early regardless of TargetDuration.
	MaxBytes ByteSize `mapstructure:"max_bytes"`
}

// HLSConfig holds HLS Writer (C) configuration.
type HLSConfig struct {
	// WindowSegments is the number of segments kept in the live playlist.
	WindowSegments int `mapstructure:"window_segments"`
	// SegmentDuration is the nominal length of one live HLS segment.
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	// ForceNative disables any non-native HLS serving path; always true
	// in this build since no proxy/transcode path exists.
	ForceNative bool `mapstructure:"force_native"`
}

// ReaderConfig holds Stream Reader (E) connection and backoff configuration.
type ReaderConfig struct {
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	StallTimeout      time.Duration `mapstructure:"stall_timeout"`
}

// DetectionConfig holds Detection Tap (D) configuration.
type DetectionConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	CollaboratorURL string       `mapstructure:"collaborator_url"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	CircuitBreakerThreshold int          `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// RetentionConfig holds Recording Catalog (F) retention-loop configuration.
type RetentionConfig struct {
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Cron       string `mapstructure:"cron"`
}

// ShutdownConfig holds Shutdown Coordinator (H) tiered-quiesce deadlines.
type ShutdownConfig struct {
	LifecycleDeadline time.Duration `mapstructure:"lifecycle_deadline"`
	ReaderDeadline    time.Duration `mapstructure:"reader_deadline"`
	WriterDeadline    time.Duration `mapstructure:"writer_deadline"`
	CatalogDeadline   time.Duration `mapstructure:"catalog_deadline"`
}

// BackupConfig holds backup configuration.
type BackupConfig struct {
	Directory string               `mapstructure:"directory"` // Backup storage location (empty = {storage.base_dir}/backups)
	Schedule  BackupScheduleConfig `mapstructure:"schedule"`
}

// BackupScheduleConfig holds scheduled backup configuration.
type BackupScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`   // Enable scheduled backups
	Cron      string `mapstructure:"cron"`      // 6-field cron expression (default: "0 0 3 * * *" daily at 3 AM)
	Retention int    `mapstructure:"retention"` // Number of backups to keep
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIGHTNVR_ and use underscores
// for nesting. Example: LIGHTNVR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/lightnvr")
		v.AddConfigPath("$HOME/.lightnvr")
	}

	v.SetEnvPrefix("LIGHTNVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.auth_enabled", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "lightnvr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.segments_dir", "segments")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.max_storage", defaultMaxStorageBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Ring defaults
	v.SetDefault("ring.capacity_bytes", defaultBufferKB*1024)

	// Segmenter defaults
	v.SetDefault("segmenter.target_duration", defaultSegmentSeconds*time.Second)
	v.SetDefault("segmenter.max_bytes", defaultSegmentMaxBytes)

	// HLS defaults
	v.SetDefault("hls.window_segments", defaultHLSWindowSegments)
	v.SetDefault("hls.segment_duration", defaultHLSSegmentDuration)
	v.SetDefault("hls.force_native", true)

	// Reader defaults
	v.SetDefault("reader.reconnect_min_delay", defaultReconnectMinDelay)
	v.SetDefault("reader.reconnect_max_delay", defaultReconnectMaxDelay)
	v.SetDefault("reader.stall_timeout", defaultStallTimeout)

	// Detection defaults
	v.SetDefault("detection.enabled", false)
	v.SetDefault("detection.collaborator_url", "")
	v.SetDefault("detection.cooldown", defaultDetectionCooldown)
	v.SetDefault("detection.circuit_breaker_threshold", 3)
	v.SetDefault("detection.circuit_breaker_timeout", 30*time.Second)

	// Retention defaults
	v.SetDefault("retention.max_age_days", defaultRetentionDays)
	v.SetDefault("retention.cron", "0 0 * * * *") // hourly, 6-field cron

	// Shutdown defaults
	v.SetDefault("shutdown.lifecycle_deadline", defaultDrainDeadline)
	v.SetDefault("shutdown.reader_deadline", defaultDrainDeadline)
	v.SetDefault("shutdown.writer_deadline", defaultDrainDeadline)
	v.SetDefault("shutdown.catalog_deadline", defaultDrainDeadline)

	// Backup defaults
	v.SetDefault("backup.directory", "")               // Empty = {storage.base_dir}/backups
	v.SetDefault("backup.schedule.enabled", true)       // Enabled by default
	v.SetDefault("backup.schedule.cron", "0 0 3 * * *") // Daily at 3 AM (6-field cron)
	v.SetDefault("backup.schedule.retention", 7)        // Keep last 7 backups
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.MaxStorage <= 0 {
		return fmt.Errorf("storage.max_storage must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Ring.CapacityBytes <= 0 {
		return fmt.Errorf("ring.capacity_bytes must be positive")
	}
	if c.Segmenter.TargetDuration <= 0 {
		return fmt.Errorf("segmenter.target_duration must be positive")
	}
	if c.Segmenter.MaxBytes <= 0 {
		return fmt.Errorf("segmenter.max_bytes must be positive")
	}
	if c.HLS.WindowSegments < 2 {
		return fmt.Errorf("hls.window_segments must be at least 2")
	}
	if c.HLS.SegmentDuration <= 0 {
		return fmt.Errorf("hls.segment_duration must be positive")
	}
	if c.Detection.Enabled && c.Detection.CollaboratorURL == "" {
		return fmt.Errorf("detection.collaborator_url is required when detection.enabled is true")
	}
	if c.Retention.MaxAgeDays < 1 {
		return fmt.Errorf("retention.max_age_days must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SegmentsPath returns the full path to the segments directory.
func (c *StorageConfig) SegmentsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.SegmentsDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}

// BackupPath returns the backup directory path.
// If Directory is set, returns it directly; otherwise returns {BaseDir}/backups.
func (c *BackupConfig) BackupPath(storageBaseDir string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return fmt.Sprintf("%s/backups", storageBaseDir)
}
