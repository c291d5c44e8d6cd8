// Package migrations provides database migration management using GORM's
// AutoMigrate with a version-tracked registry.
package migrations

import (
	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns every registered migration in order, creating
// the full schema the core's Recording Catalog (F) and Config Store (I)
// depend on: streams, segments, detection_events, and backup_settings.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates every table the core reads or writes via
// GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create streams, segments, detection_events, and backup_settings tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.StreamDescriptor{},
				&models.Segment{},
				&models.DetectionEvent{},
				&models.BackupSettings{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"backup_settings",
				"detection_events",
				"segments",
				"streams",
			}
			for _, table := range tables {
				if err := tx.Migrator().DropTable(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
