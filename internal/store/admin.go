package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordAuditEntry appends one administrative or lifecycle event.
func (sess *Session) RecordAuditEntry(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	e.CreatedAt = nowUTC()
	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO audit_entries (id, operation, user, status, details, created_at)
		VALUES (:id, :operation, :user, :status, :details, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// AuditLogFilter narrows ListAuditLog.
type AuditLogFilter struct {
	Operation string
	User      string
	Status    string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// ListAuditLog returns audit entries matching filter, newest first.
func (sess *Session) ListAuditLog(ctx context.Context, f AuditLogFilter) ([]*AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `SELECT * FROM audit_entries WHERE 1=1`
	args := []any{}
	if f.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, f.Operation)
	}
	if f.User != "" {
		query += ` AND user = ?`
		args = append(args, f.User)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.StartDate != "" {
		query += ` AND created_at >= ?`
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		query += ` AND created_at <= ?`
		args = append(args, f.EndDate)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	var out []*AuditEntry
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return out, nil
}

// RecordPerformanceSample stores one timed operation for later percentile
// reporting.
func (sess *Session) RecordPerformanceSample(ctx context.Context, operation string, durationMs float64) error {
	_, err := sess.tx.ExecContext(ctx, `
		INSERT INTO performance_samples (id, operation, duration_ms, created_at)
		VALUES (?, ?, ?, ?)
	`, NewID(), operation, durationMs, nowUTC())
	if err != nil {
		return fmt.Errorf("recording performance sample: %w", err)
	}
	return nil
}

// ListPerformanceSamples returns samples recorded at or after sinceRFC3339,
// optionally filtered to one operation.
func (sess *Session) ListPerformanceSamples(ctx context.Context, sinceRFC3339, operation string) ([]*PerformanceSample, error) {
	query := `SELECT * FROM performance_samples WHERE created_at >= ?`
	args := []any{sinceRFC3339}
	if operation != "" {
		query += ` AND operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY created_at ASC`

	var out []*PerformanceSample
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing performance samples: %w", err)
	}
	return out, nil
}

// UpsertCacheEntry records or refreshes a cache entry's metadata row,
// mirroring the live value stored in Redis.
func (sess *Session) UpsertCacheEntry(ctx context.Context, e *CacheEntry) error {
	now := nowUTC()
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	e.AccessedAt = now

	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, cache_type, value, created_at, accessed_at)
		VALUES (:cache_key, :cache_type, :value, :created_at, :accessed_at)
		ON CONFLICT(cache_key) DO UPDATE SET
			value = excluded.value,
			accessed_at = excluded.accessed_at
	`, e)
	if err != nil {
		return fmt.Errorf("upserting cache entry %s: %w", e.CacheKey, err)
	}
	return nil
}

// DeleteCacheEntriesOlderThan removes cache entry rows last accessed
// before cutoffRFC3339 and returns how many were removed, backing
// cleanup_cache.
func (sess *Session) DeleteCacheEntriesOlderThan(ctx context.Context, cutoffRFC3339 string) (int, error) {
	res, err := sess.tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE accessed_at < ?`, cutoffRFC3339)
	if err != nil {
		return 0, fmt.Errorf("cleaning up cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// ClearCacheEntries removes cache entry rows, optionally scoped to
// cacheTypes, and returns how many were removed.
func (sess *Session) ClearCacheEntries(ctx context.Context, cacheTypes []string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if len(cacheTypes) == 0 {
		res, err = sess.tx.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		var query string
		var args []any
		query, args, err = sqlxIn(`DELETE FROM cache_entries WHERE cache_type IN (?)`, nil, cacheTypes)
		if err == nil {
			res, err = sess.tx.ExecContext(ctx, sess.tx.Rebind(query), args...)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("clearing cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// CountCacheEntries returns the number of cache entry rows, optionally
// scoped to cacheType.
func (sess *Session) CountCacheEntries(ctx context.Context, cacheType string) (int, error) {
	query := `SELECT COUNT(*) FROM cache_entries`
	args := []any{}
	if cacheType != "" {
		query += ` WHERE cache_type = ?`
		args = append(args, cacheType)
	}
	var n int
	if err := sess.tx.GetContext(ctx, &n, sess.tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// ListCacheEntries returns cache entry rows, optionally filtered to
// cacheTypes.
func (sess *Session) ListCacheEntries(ctx context.Context, cacheTypes []string) ([]*CacheEntry, error) {
	var out []*CacheEntry
	if len(cacheTypes) == 0 {
		if err := sess.tx.SelectContext(ctx, &out, `SELECT * FROM cache_entries`); err != nil {
			return nil, fmt.Errorf("listing cache entries: %w", err)
		}
		return out, nil
	}

	query, args, err := sqlxIn(`SELECT * FROM cache_entries WHERE cache_type IN (?)`, nil, cacheTypes)
	if err != nil {
		return nil, fmt.Errorf("building cache entry list query: %w", err)
	}
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	return out, nil
}

const maintenanceFlagID = "singleton"

// GetMaintenanceFlag returns the singleton maintenance flag, defaulting to
// disabled if never set.
func (sess *Session) GetMaintenanceFlag(ctx context.Context) (*MaintenanceFlag, error) {
	var f MaintenanceFlag
	err := sess.tx.GetContext(ctx, &f, `SELECT * FROM maintenance_flags WHERE id = ?`, maintenanceFlagID)
	if errors.Is(err, sql.ErrNoRows) {
		return &MaintenanceFlag{ID: maintenanceFlagID, Enabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading maintenance flag: %w", err)
	}
	return &f, nil
}

// SetMaintenanceFlag enables or disables maintenance mode.
func (sess *Session) SetMaintenanceFlag(ctx context.Context, enabled bool, reason, enabledBy string) error {
	now := nowUTC()
	_, err := sess.tx.ExecContext(ctx, `
		INSERT INTO maintenance_flags (id, enabled, reason, enabled_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			reason = excluded.reason,
			enabled_by = excluded.enabled_by,
			updated_at = excluded.updated_at
	`, maintenanceFlagID, enabled, reason, enabledBy, now, now)
	if err != nil {
		return fmt.Errorf("setting maintenance flag: %w", err)
	}
	return nil
}

// CreateCheckpoint records a named snapshot marker.
func (sess *Session) CreateCheckpoint(ctx context.Context, c *Checkpoint) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	c.CreatedAt = nowUTC()
	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO checkpoints (id, name, metadata, created_at)
		VALUES (:id, :name, :metadata, :created_at)
	`, c)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	return nil
}

// CountByStatus returns a status→count map for a table, used by get_stats.
func (sess *Session) CountByStatus(ctx context.Context, table, statusColumn string) (map[string]int, error) {
	rows, err := sess.tx.QueryxContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s GROUP BY %s`, statusColumn, table, statusColumn))
	if err != nil {
		return nil, fmt.Errorf("counting %s by %s: %w", table, statusColumn, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}
