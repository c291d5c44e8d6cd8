package catalog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/models"
)

func newBackupTestService(t *testing.T) (*BackupService, string) {
	t.Helper()
	storageDir := t.TempDir()
	dbPath := filepath.Join(storageDir, "catalog.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.StreamDescriptor{}, &models.Segment{}, &models.DetectionEvent{}, &models.BackupSettings{}))

	stream := &models.StreamDescriptor{Name: "cam1", URI: "rtsp://example.invalid/cam1", Enabled: true}
	require.NoError(t, db.Create(stream).Error)

	cfg := config.BackupConfig{
		Directory: filepath.Join(storageDir, "backups"),
		Schedule:  config.BackupScheduleConfig{Enabled: true, Cron: "0 0 3 * * *", Retention: 2},
	}
	return NewBackupService(db, cfg, storageDir, testLogger()), storageDir
}

func TestBackupService_CreateAndListBackup(t *testing.T) {
	svc, _ := newBackupTestService(t)
	ctx := context.Background()

	meta, err := svc.CreateBackup(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, meta.Filename)
	assert.True(t, strings.HasSuffix(meta.Filename, ".tar.gz"))
	assert.NotEmpty(t, meta.Checksum)
	assert.Equal(t, 1, meta.TableCounts.Streams)

	list, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, meta.Filename, list[0].Filename)
}

func TestBackupService_RestoreBackup(t *testing.T) {
	svc, storageDir := newBackupTestService(t)
	ctx := context.Background()

	meta, err := svc.CreateBackup(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.RestoreBackup(ctx, meta.Filename))

	restoredPath := filepath.Join(storageDir, "catalog.db")
	_, err = os.Stat(restoredPath)
	require.NoError(t, err)

	_, err = os.Stat(restoredPath + ".old")
	assert.True(t, os.IsNotExist(err), "the rollback-safety .old file should be removed after a successful restore")
}

func TestBackupService_SetBackupProtectionSurvivesCleanup(t *testing.T) {
	svc, _ := newBackupTestService(t)
	ctx := context.Background()

	first, err := svc.CreateBackup(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.SetBackupProtection(ctx, first.Filename, true))

	_, err = svc.CreateBackup(ctx)
	require.NoError(t, err)
	_, err = svc.CreateBackup(ctx)
	require.NoError(t, err)

	removed, err := svc.CleanupOldBackups(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 0)

	got, err := svc.GetBackup(ctx, first.Filename)
	require.NoError(t, err)
	assert.True(t, got.Protected, "a protected backup must survive retention cleanup")
}

func TestBackupService_ImportBackup(t *testing.T) {
	svc, _ := newBackupTestService(t)
	ctx := context.Background()

	meta, err := svc.CreateBackup(ctx)
	require.NoError(t, err)

	f, err := svc.OpenBackupFile(ctx, meta.Filename)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)

	imported, err := svc.ImportBackup(ctx, &buf, backupFilePrefix+"2001-02-03T04-05-06.000.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, meta.Checksum, imported.Checksum)
	assert.True(t, imported.Imported)
}

func TestBackupService_ScheduleSettingsRoundTrip(t *testing.T) {
	svc, _ := newBackupTestService(t)
	ctx := context.Background()

	enabled := false
	cron := "0 30 4 * * *"
	retention := 5
	info, err := svc.UpdateScheduleSettings(ctx, &enabled, &cron, &retention)
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.Equal(t, cron, info.Cron)
	assert.Equal(t, retention, info.Retention)

	gotEnabled, gotCron, gotRetention := svc.GetEffectiveSchedule(ctx)
	assert.False(t, gotEnabled)
	assert.Equal(t, cron, gotCron)
	assert.Equal(t, retention, gotRetention)
}
