// Package admin implements the system-status, cache-administration,
// lifecycle, audit, performance, and export JSON-RPC methods: the
// operational surface an operator (not a content author) calls.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/babar-raza/tbcv-sub003/internal/agent"
	"github.com/babar-raza/tbcv-sub003/internal/cache"
	"github.com/babar-raza/tbcv-sub003/internal/family"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Methods groups the admin-method handlers over their shared collaborators.
type Methods struct {
	store    *store.Store
	cache    *cache.Cache
	agents   *agent.Registry
	families *family.Detector
	logger   *slog.Logger
}

// New builds a Methods over its collaborators.
func New(st *store.Store, c *cache.Cache, agents *agent.Registry, families *family.Detector, logger *slog.Logger) *Methods {
	return &Methods{store: st, cache: c, agents: agents, families: families, logger: logger}
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// --- get_system_status ---

type GetSystemStatus struct{ m *Methods }

func NewGetSystemStatus(m *Methods) *GetSystemStatus { return &GetSystemStatus{m: m} }

func (t *GetSystemStatus) Name() string { return "get_system_status" }
func (t *GetSystemStatus) Description() string {
	return "Report component health, resource usage, and maintenance mode."
}

type componentStatus struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

func (t *GetSystemStatus) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	components := map[string]componentStatus{
		"database": t.databaseComponent(ctx),
		"cache":    t.cacheComponent(ctx),
		"agents":   t.agentsComponent(),
	}

	overall := "healthy"
	for _, c := range components {
		if c.Status != "healthy" {
			overall = "degraded"
		}
	}

	var flag *store.MaintenanceFlag
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		flag, err = sess.GetMaintenanceFlag(ctx)
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "loading maintenance flag")
	}
	if flag.Enabled {
		overall = "degraded"
	}

	return map[string]any{
		"status":           overall,
		"components":       components,
		"resources":        resourceUsage(),
		"maintenance_mode": flag.Enabled,
	}, nil
}

func (t *GetSystemStatus) databaseComponent(ctx context.Context) componentStatus {
	if err := t.m.store.Ping(ctx); err != nil {
		return componentStatus{Status: "unhealthy", Details: err.Error()}
	}
	return componentStatus{Status: "healthy", Details: "connected"}
}

func (t *GetSystemStatus) cacheComponent(ctx context.Context) componentStatus {
	if err := t.m.cache.Ping(ctx); err != nil {
		return componentStatus{Status: "unhealthy", Details: err.Error()}
	}
	return componentStatus{Status: "healthy", Details: "connected"}
}

func (t *GetSystemStatus) agentsComponent() componentStatus {
	if !t.m.agents.AllReady() {
		return componentStatus{Status: "degraded", Details: fmt.Sprintf("%d agents registered, one or more degraded", t.m.agents.Count())}
	}
	return componentStatus{Status: "healthy", Details: fmt.Sprintf("%d agents ready", t.m.agents.Count())}
}

// resourceUsage samples host CPU, memory, and disk utilization. Each
// sample best-effort-degrades to 0 on a read failure rather than failing
// the whole status report, since resource sampling is advisory.
func resourceUsage() map[string]float64 {
	cpuPercent := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	diskPercent := 0.0
	if du, err := disk.Usage("/"); err == nil {
		diskPercent = du.UsedPercent
	}

	return map[string]float64{
		"cpu_percent":    roundTo1(cpuPercent),
		"memory_percent": roundTo1(memPercent),
		"disk_percent":   roundTo1(diskPercent),
	}
}

func roundTo1(v float64) float64 { return math.Round(v*10) / 10 }

// --- cache administration ---

type ClearCache struct{ m *Methods }

func NewClearCache(m *Methods) *ClearCache { return &ClearCache{m: m} }

func (t *ClearCache) Name() string        { return "clear_cache" }
func (t *ClearCache) Description() string { return "Clear cache entries, optionally scoped by type." }

type clearCacheParams struct {
	CacheTypes []string `json:"cache_types"`
}

func (t *ClearCache) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p clearCacheParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	cleared, err := t.m.cache.Clear(ctx, p.CacheTypes)
	if err != nil {
		return nil, rpc.NewInternal(err, "clearing cache")
	}

	return map[string]any{
		"success":             true,
		"cleared_items":       cleared,
		"cache_types_cleared": p.CacheTypes,
	}, nil
}

type GetCacheStats struct{ m *Methods }

func NewGetCacheStats(m *Methods) *GetCacheStats { return &GetCacheStats{m: m} }

func (t *GetCacheStats) Name() string { return "get_cache_stats" }
func (t *GetCacheStats) Description() string {
	return "Report cache size, hit rate, and per-type breakdown."
}

func (t *GetCacheStats) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	stats, err := t.m.cache.Stats(ctx)
	if err != nil {
		return nil, rpc.NewInternal(err, "computing cache stats")
	}
	return map[string]any{
		"total_items":      stats.TotalItems,
		"total_size_bytes": stats.TotalSizeBytes,
		"hit_rate":         stats.HitRate,
		"by_type":          stats.ByType,
	}, nil
}

type CleanupCache struct{ m *Methods }

func NewCleanupCache(m *Methods) *CleanupCache { return &CleanupCache{m: m} }

func (t *CleanupCache) Name() string { return "cleanup_cache" }
func (t *CleanupCache) Description() string {
	return "Remove cache entries not accessed within max_age_hours."
}

type cleanupCacheParams struct {
	MaxAgeHours *float64 `json:"max_age_hours"`
}

func (t *CleanupCache) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p cleanupCacheParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	maxAgeHours := 24.0
	if p.MaxAgeHours != nil {
		maxAgeHours = *p.MaxAgeHours
	}

	cleaned, err := t.m.cache.Cleanup(ctx, time.Duration(maxAgeHours*float64(time.Hour)))
	if err != nil {
		return nil, rpc.NewInternal(err, "cleaning up cache")
	}

	return map[string]any{
		"success":       true,
		"cleaned_items": cleaned,
		"max_age_hours": maxAgeHours,
	}, nil
}

type RebuildCache struct{ m *Methods }

func NewRebuildCache(m *Methods) *RebuildCache { return &RebuildCache{m: m} }

func (t *RebuildCache) Name() string { return "rebuild_cache" }
func (t *RebuildCache) Description() string {
	return "Repopulate the cache from current validation records."
}

func (t *RebuildCache) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	rebuilt, err := t.m.cache.Rebuild(ctx)
	if err != nil {
		return nil, rpc.NewInternal(err, "rebuilding cache")
	}
	return map[string]any{
		"success":       true,
		"rebuilt_items": rebuilt,
	}, nil
}

// --- lifecycle operations ---

type ReloadAgent struct{ m *Methods }

func NewReloadAgent(m *Methods) *ReloadAgent { return &ReloadAgent{m: m} }

func (t *ReloadAgent) Name() string        { return "reload_agent" }
func (t *ReloadAgent) Description() string { return "Reset a registered agent's recorded state." }

type reloadAgentParams struct {
	AgentID string `json:"agent_id" validate:"required"`
}

func (t *ReloadAgent) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p reloadAgentParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	a, err := t.m.agents.Reload(p.AgentID)
	if err != nil {
		return nil, rpc.NewNotFound("%s", err.Error())
	}

	return map[string]any{
		"success":     true,
		"agent_id":    a.ID,
		"status":      a.Status,
		"reloaded_at": a.ReloadedAt,
	}, nil
}

type RunGC struct{ m *Methods }

func NewRunGC(m *Methods) *RunGC { return &RunGC{m: m} }

func (t *RunGC) Name() string { return "run_gc" }
func (t *RunGC) Description() string {
	return "Force a garbage collection pass and report heap statistics."
}

func (t *RunGC) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	var collected int
	if after.HeapObjects < before.HeapObjects {
		collected = int(before.HeapObjects - after.HeapObjects)
	}

	return map[string]any{
		"success":           true,
		"collected_objects": collected,
		"generation":        after.NumGC,
		"stats": map[string]any{
			"heap_alloc_bytes": after.HeapAlloc,
			"heap_objects":     after.HeapObjects,
			"num_gc":           after.NumGC,
		},
	}, nil
}

type EnableMaintenanceMode struct{ m *Methods }

func NewEnableMaintenanceMode(m *Methods) *EnableMaintenanceMode { return &EnableMaintenanceMode{m: m} }

func (t *EnableMaintenanceMode) Name() string        { return "enable_maintenance_mode" }
func (t *EnableMaintenanceMode) Description() string { return "Enable maintenance mode." }

type enableMaintenanceParams struct {
	Reason    string `json:"reason"`
	EnabledBy string `json:"enabled_by"`
}

func (t *EnableMaintenanceMode) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p enableMaintenanceParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.SetMaintenanceFlag(ctx, true, p.Reason, p.EnabledBy)
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "enabling maintenance mode")
	}

	t.m.logger.Warn("maintenance mode enabled", "reason", p.Reason, "enabled_by", p.EnabledBy)

	return map[string]any{"success": true, "enabled_at": nowRFC3339()}, nil
}

type DisableMaintenanceMode struct{ m *Methods }

func NewDisableMaintenanceMode(m *Methods) *DisableMaintenanceMode {
	return &DisableMaintenanceMode{m: m}
}

func (t *DisableMaintenanceMode) Name() string        { return "disable_maintenance_mode" }
func (t *DisableMaintenanceMode) Description() string { return "Disable maintenance mode." }

func (t *DisableMaintenanceMode) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.SetMaintenanceFlag(ctx, false, "", "")
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "disabling maintenance mode")
	}

	t.m.logger.Info("maintenance mode disabled")

	return map[string]any{"success": true, "disabled_at": nowRFC3339()}, nil
}

type CreateCheckpoint struct{ m *Methods }

func NewCreateCheckpoint(m *Methods) *CreateCheckpoint { return &CreateCheckpoint{m: m} }

func (t *CreateCheckpoint) Name() string        { return "create_checkpoint" }
func (t *CreateCheckpoint) Description() string { return "Record a named snapshot marker." }

type createCheckpointParams struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (t *CreateCheckpoint) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p createCheckpointParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, rpc.NewInvalidParams("invalid metadata: %v", err)
	}

	name := p.Name
	if name == "" {
		name = "checkpoint"
	}

	cp := &store.Checkpoint{Name: name, MetadataJSON: string(metaJSON)}
	err = t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.CreateCheckpoint(ctx, cp)
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "creating checkpoint")
	}

	return map[string]any{
		"success":       true,
		"checkpoint_id": cp.ID + "_" + name,
		"created_at":    cp.CreatedAt,
	}, nil
}

// --- reporting ---

type GetStats struct{ m *Methods }

func NewGetStats(m *Methods) *GetStats { return &GetStats{m: m} }

func (t *GetStats) Name() string { return "get_stats" }
func (t *GetStats) Description() string {
	return "Report aggregate counters across validations, recommendations, and workflows."
}

func (t *GetStats) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	var validationsByStatus, recommendationsByStatus, workflowsByState map[string]int
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		validationsByStatus, err = sess.CountByStatus(ctx, "validations", "status")
		if err != nil {
			return err
		}
		recommendationsByStatus, err = sess.CountByStatus(ctx, "recommendations", "status")
		if err != nil {
			return err
		}
		workflowsByState, err = sess.CountByStatus(ctx, "workflows", "state")
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "computing stats")
	}

	cacheStats, err := t.m.cache.Stats(ctx)
	if err != nil {
		return nil, rpc.NewInternal(err, "computing cache stats")
	}

	return map[string]any{
		"validations":     validationsByStatus,
		"recommendations": recommendationsByStatus,
		"workflows":       workflowsByState,
		"cache":           cacheStats,
		"agent_count":     t.m.agents.Count(),
	}, nil
}

type GetAuditLog struct{ m *Methods }

func NewGetAuditLog(m *Methods) *GetAuditLog { return &GetAuditLog{m: m} }

func (t *GetAuditLog) Name() string        { return "get_audit_log" }
func (t *GetAuditLog) Description() string { return "Paginated view of administrative audit entries." }

type getAuditLogParams struct {
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	Operation string `json:"operation"`
	User      string `json:"user"`
	Status    string `json:"status"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (t *GetAuditLog) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getAuditLogParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}

	var entries []*store.AuditEntry
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.ListAuditLog(ctx, store.AuditLogFilter{
			Operation: p.Operation,
			User:      p.User,
			Status:    p.Status,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
			Limit:     p.Limit,
			Offset:    p.Offset,
		})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing audit log")
	}

	return map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, nil
}

type GetPerformanceReport struct{ m *Methods }

func NewGetPerformanceReport(m *Methods) *GetPerformanceReport { return &GetPerformanceReport{m: m} }

func (t *GetPerformanceReport) Name() string { return "get_performance_report" }
func (t *GetPerformanceReport) Description() string {
	return "Report operation latency distribution over a time range."
}

type getPerformanceReportParams struct {
	TimeRange string `json:"time_range" validate:"omitempty,oneof=1h 24h 7d 30d"`
	Operation string `json:"operation"`
}

var timeRangeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

func (t *GetPerformanceReport) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getPerformanceReportParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	timeRange := p.TimeRange
	if timeRange == "" {
		timeRange = "24h"
	}
	since := time.Now().UTC().Add(-timeRangeDurations[timeRange]).Format(time.RFC3339)

	var samples []*store.PerformanceSample
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		samples, err = sess.ListPerformanceSamples(ctx, since, p.Operation)
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing performance samples")
	}

	byOperation := make(map[string][]float64)
	for _, s := range samples {
		byOperation[s.Operation] = append(byOperation[s.Operation], s.DurationMs)
	}

	operations := make(map[string]any, len(byOperation))
	for op, durations := range byOperation {
		operations[op] = summarize(durations)
	}

	return map[string]any{
		"time_range": timeRange,
		"operations": operations,
	}, nil
}

func summarize(durations []float64) map[string]any {
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, d := range sorted {
		sum += d
	}

	return map[string]any{
		"count": n,
		"avg":   roundTo1(sum / float64(n)),
		"min":   roundTo1(sorted[0]),
		"max":   roundTo1(sorted[n-1]),
		"p50":   roundTo1(percentile(sorted, 0.50)),
		"p95":   roundTo1(percentile(sorted, 0.95)),
		"p99":   roundTo1(percentile(sorted, 0.99)),
	}
}

// percentile returns the value at p (0..1) over a pre-sorted slice, using
// linear interpolation between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

type GetHealthReport struct{ m *Methods }

func NewGetHealthReport(m *Methods) *GetHealthReport { return &GetHealthReport{m: m} }

func (t *GetHealthReport) Name() string { return "get_health_report" }
func (t *GetHealthReport) Description() string {
	return "Summarize overall health, recent errors, and recommendations."
}

func (t *GetHealthReport) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	statusResult, err := NewGetSystemStatus(t.m).Execute(ctx, json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}
	status := statusResult.(map[string]any)

	var recentErrors []*store.AuditEntry
	err = t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		recentErrors, err = sess.ListAuditLog(ctx, store.AuditLogFilter{Status: "error", Limit: 20})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing recent errors")
	}

	perfResult, err := NewGetPerformanceReport(t.m).Execute(ctx, json.RawMessage(`{"time_range":"1h"}`))
	if err != nil {
		return nil, err
	}

	overallHealth := status["status"].(string)
	if overallHealth == "healthy" && len(recentErrors) > 0 {
		overallHealth = "degraded"
	}

	var recommendations []string
	if status["maintenance_mode"] == true {
		recommendations = append(recommendations, "System is in maintenance mode; disable when work is complete.")
	}
	if len(recentErrors) > 0 {
		recommendations = append(recommendations, fmt.Sprintf("%d recent error(s) in the audit log; review get_audit_log for detail.", len(recentErrors)))
	}
	if len(recommendations) == 0 {
		recommendations = []string{}
	}

	return map[string]any{
		"overall_health":      overallHealth,
		"components":          status["components"],
		"recent_errors":       recentErrors,
		"performance_summary": perfResult,
		"recommendations":     recommendations,
	}, nil
}

type GetValidationHistory struct{ m *Methods }

func NewGetValidationHistory(m *Methods) *GetValidationHistory { return &GetValidationHistory{m: m} }

func (t *GetValidationHistory) Name() string { return "get_validation_history" }
func (t *GetValidationHistory) Description() string {
	return "List past validations for one file path."
}

type getValidationHistoryParams struct {
	FilePath string `json:"file_path" validate:"required"`
	Limit    int    `json:"limit"`
}

func (t *GetValidationHistory) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getValidationHistoryParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}

	var records []*store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		records, err = sess.ListValidations(ctx, store.ListValidationsFilter{FilePath: p.FilePath, Limit: p.Limit})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing validation history for %s", p.FilePath)
	}

	return map[string]any{
		"file_path":   p.FilePath,
		"count":       len(records),
		"validations": records,
	}, nil
}

type GetAvailableValidators struct{ m *Methods }

func NewGetAvailableValidators(m *Methods) *GetAvailableValidators {
	return &GetAvailableValidators{m: m}
}

func (t *GetAvailableValidators) Name() string { return "get_available_validators" }
func (t *GetAvailableValidators) Description() string {
	return "List the structural and family validators available."
}

// structuralValidators are the fixed checks every document goes through,
// independent of family, per internal/ingest's header/body validation.
var structuralValidators = []string{"frontmatter", "structure", "links", "headings"}

type getAvailableValidatorsParams struct {
	ValidatorType string `json:"validator_type" validate:"omitempty,oneof=structural family"`
}

func (t *GetAvailableValidators) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getAvailableValidatorsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	out := map[string]any{}
	if p.ValidatorType == "" || p.ValidatorType == "structural" {
		out["structural"] = structuralValidators
	}
	if p.ValidatorType == "" || p.ValidatorType == "family" {
		out["family"] = t.m.families.AvailableFamilies()
	}

	return out, nil
}

// --- exports ---

const exportSchemaVersion = "1.0"

type ExportValidation struct{ m *Methods }

func NewExportValidation(m *Methods) *ExportValidation { return &ExportValidation{m: m} }

func (t *ExportValidation) Name() string { return "export_validation" }
func (t *ExportValidation) Description() string {
	return "Export a validation record, optionally with its recommendations."
}

type exportValidationParams struct {
	ID                     string `json:"id" validate:"required"`
	IncludeRecommendations bool   `json:"include_recommendations"`
}

func (t *ExportValidation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p exportValidationParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var v *store.ValidationRecord
	var recs []*store.Recommendation
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, p.ID)
		if err != nil {
			return err
		}
		if p.IncludeRecommendations {
			recs, err = sess.ListRecommendations(ctx, store.ListRecommendationsFilter{ValidationID: p.ID})
		}
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ID)
	}

	data := map[string]any{"validation": v}
	if p.IncludeRecommendations {
		data["recommendations"] = recs
	}

	return map[string]any{
		"schema_version": exportSchemaVersion,
		"exported_at":    nowRFC3339(),
		"data":           data,
	}, nil
}

type ExportRecommendations struct{ m *Methods }

func NewExportRecommendations(m *Methods) *ExportRecommendations { return &ExportRecommendations{m: m} }

func (t *ExportRecommendations) Name() string { return "export_recommendations" }
func (t *ExportRecommendations) Description() string {
	return "Export all recommendations for a validation."
}

type exportRecommendationsParams struct {
	ValidationID string `json:"validation_id" validate:"required"`
}

func (t *ExportRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p exportRecommendationsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var recs []*store.Recommendation
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		recs, err = sess.ListRecommendations(ctx, store.ListRecommendationsFilter{ValidationID: p.ValidationID})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing recommendations for %s", p.ValidationID)
	}

	return map[string]any{
		"schema_version": exportSchemaVersion,
		"exported_at":    nowRFC3339(),
		"data": map[string]any{
			"validation_id":   p.ValidationID,
			"recommendations": recs,
		},
	}, nil
}

type ExportWorkflow struct{ m *Methods }

func NewExportWorkflow(m *Methods) *ExportWorkflow { return &ExportWorkflow{m: m} }

func (t *ExportWorkflow) Name() string { return "export_workflow" }
func (t *ExportWorkflow) Description() string {
	return "Export a workflow, optionally with the validations it covers."
}

type exportWorkflowParams struct {
	ID                 string `json:"id" validate:"required"`
	IncludeValidations bool   `json:"include_validations"`
}

func (t *ExportWorkflow) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p exportWorkflowParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var w *store.Workflow
	var validations []*store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		w, err = sess.GetWorkflow(ctx, p.ID)
		if err != nil {
			return err
		}
		if p.IncludeValidations {
			var inputParams map[string]any
			_ = json.Unmarshal([]byte(w.InputParamsJSON), &inputParams)
			if dir, ok := inputParams["directory_path"].(string); ok && dir != "" {
				validations, err = sess.ListValidations(ctx, store.ListValidationsFilter{Limit: 1000})
				if err == nil {
					validations = filterByDirectory(validations, dir)
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("workflow %s not found", p.ID)
	}

	data := map[string]any{"workflow": w}
	if p.IncludeValidations {
		data["validations"] = validations
	}

	return map[string]any{
		"schema_version": exportSchemaVersion,
		"exported_at":    nowRFC3339(),
		"data":           data,
	}, nil
}

func filterByDirectory(records []*store.ValidationRecord, dir string) []*store.ValidationRecord {
	var out []*store.ValidationRecord
	for _, v := range records {
		if len(v.FilePath) >= len(dir) && v.FilePath[:len(dir)] == dir {
			out = append(out, v)
		}
	}
	return out
}
