package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/opensensor/lightnvr/internal/catalog"
)

// SystemHandler exposes a health probe reporting storage headroom on the
// recordings volume and catalog integrity, plus load average and memory
// use read through gopsutil. Only a storage or catalog failure marks the
// service degraded.
type SystemHandler struct {
	version     string
	startTime   time.Time
	storageRoot string
	catalog     *catalog.Store
	logger      *slog.Logger
}

// NewSystemHandler creates a new system health handler.
func NewSystemHandler(version, storageRoot string, store *catalog.Store, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		version: version, startTime: time.Now(),
		storageRoot: storageRoot, catalog: store, logger: logger,
	}
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemHealth",
		Method:      "GET",
		Path:        "/api/system/health",
		Summary:     "System health",
		Description: "Reports storage headroom, memory/load, and catalog integrity",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthInput is the input for the system health endpoint.
type HealthInput struct{}

// StorageHealth reports headroom on the volume backing the recordings
// directory, the single most actionable health signal for an NVR: a
// full disk makes every segment write fail.
type StorageHealth struct {
	Path         string  `json:"path"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsedPercent  float64 `json:"used_percent"`
	Unmountable  bool    `json:"unmountable"`
}

// MemoryHealth reports system memory pressure.
type MemoryHealth struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthOutput is the output for the system health endpoint.
type HealthOutput struct {
	Body struct {
		Status        string        `json:"status"`
		Version       string        `json:"version"`
		UptimeSeconds float64       `json:"uptime_seconds"`
		Load1         float64       `json:"load1"`
		Memory        MemoryHealth  `json:"memory"`
		Storage       StorageHealth `json:"storage"`
		CatalogOK     bool          `json:"catalog_ok"`
		CatalogError  string        `json:"catalog_error,omitempty"`
	}
}

// GetHealth reports the service's current health.
func (h *SystemHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Version = h.version
	out.Body.UptimeSeconds = time.Since(h.startTime).Seconds()
	out.Body.Status = "healthy"

	if loadStat, err := load.AvgWithContext(ctx); err == nil {
		out.Body.Load1 = loadStat.Load1
	} else {
		h.logger.Warn("failed to read system load", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.Body.Memory = MemoryHealth{TotalBytes: vm.Total, UsedPercent: vm.UsedPercent}
	} else {
		h.logger.Warn("failed to read memory stats", "error", err)
	}

	out.Body.Storage.Path = h.storageRoot
	if usage, err := disk.UsageWithContext(ctx, h.storageRoot); err != nil {
		h.logger.Error("failed to stat storage path, volume may be unmounted", "path", h.storageRoot, "error", err)
		out.Body.Storage.Unmountable = true
		out.Body.Status = "degraded"
	} else {
		out.Body.Storage.TotalBytes = usage.Total
		out.Body.Storage.UsedBytes = usage.Used
		out.Body.Storage.FreeBytes = usage.Free
		out.Body.Storage.UsedPercent = usage.UsedPercent
	}

	if err := h.catalog.SelfCheck(ctx); err != nil {
		out.Body.CatalogOK = false
		out.Body.CatalogError = err.Error()
		out.Body.Status = "degraded"
	} else {
		out.Body.CatalogOK = true
	}

	return out, nil
}
