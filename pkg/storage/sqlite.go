package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements Ledger and BudgetStore on an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

const recordColumns = `id, correlation_id, scope_id, provider, model,
	input_units, output_units, total_units, images, audio_seconds,
	input_cost, output_cost, image_cost, audio_cost, total_cost,
	metadata, created_at`

func (s *SQLite) Store(ctx context.Context, record *model.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	metadata := "{}"
	if len(record.Metadata) > 0 {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(data)
	}

	u, b := record.Usage, record.Breakdown
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   correlation_id = excluded.correlation_id,
		   scope_id = excluded.scope_id,
		   provider = excluded.provider,
		   model = excluded.model,
		   input_units = excluded.input_units,
		   output_units = excluded.output_units,
		   total_units = excluded.total_units,
		   images = excluded.images,
		   audio_seconds = excluded.audio_seconds,
		   input_cost = excluded.input_cost,
		   output_cost = excluded.output_cost,
		   image_cost = excluded.image_cost,
		   audio_cost = excluded.audio_cost,
		   total_cost = excluded.total_cost,
		   metadata = excluded.metadata,
		   created_at = excluded.created_at`,
		record.ID, record.CorrelationID, record.ScopeID, record.Provider, record.Model,
		u.InputUnits, u.OutputUnits, u.TotalUnits, u.Images, u.AudioSeconds,
		b.Input, b.Output, b.Image, b.Audio, record.TotalCost,
		metadata, record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store usage record: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*model.UsageRecord, error) {
	records, err := s.queryRecords(ctx, "id = ?", []any{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("usage record %q: %w", id, ErrNotFound)
	}
	return &records[0], nil
}

func (s *SQLite) GetByCorrelationID(ctx context.Context, correlationID string) ([]model.UsageRecord, error) {
	return s.Query(ctx, model.ReportFilter{CorrelationID: correlationID})
}

func (s *SQLite) GetByScope(ctx context.Context, scopeID string, from, to time.Time) ([]model.UsageRecord, error) {
	where, args := buildWhereClause(model.ReportFilter{StartTime: from, EndTime: to})
	scopeWhere := "scope_id = ?"
	if where != "" {
		scopeWhere += " AND " + where
	}
	return s.queryRecords(ctx, scopeWhere, append([]any{scopeID}, args...))
}

func (s *SQLite) GetByTimeRange(ctx context.Context, from, to time.Time) ([]model.UsageRecord, error) {
	return s.Query(ctx, model.ReportFilter{StartTime: from, EndTime: to})
}

func (s *SQLite) Query(ctx context.Context, filter model.ReportFilter) ([]model.UsageRecord, error) {
	where, args := buildWhereClause(filter)
	return s.queryRecords(ctx, where, args)
}

// Summarize loads the matching rows and aggregates them in Go so the result
// matches the in-memory ledger to the last bit.
func (s *SQLite) Summarize(ctx context.Context, from, to time.Time, scopeID string) (*model.UsageSummary, error) {
	records, err := s.Query(ctx, model.ReportFilter{ScopeID: scopeID, StartTime: from, EndTime: to})
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return model.Aggregate(records, from, to, scopeID), nil
}

func (s *SQLite) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge usage records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM usage_records`); err != nil {
		return fmt.Errorf("clear usage records: %w", err)
	}
	return nil
}

func (s *SQLite) queryRecords(ctx context.Context, where string, args []any) ([]model.UsageRecord, error) {
	query := "SELECT " + recordColumns + " FROM usage_records"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	records := make([]model.UsageRecord, 0)
	for rows.Next() {
		var (
			r         model.UsageRecord
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.ScopeID, &r.Provider, &r.Model,
			&r.Usage.InputUnits, &r.Usage.OutputUnits, &r.Usage.TotalUnits, &r.Usage.Images, &r.Usage.AudioSeconds,
			&r.Breakdown.Input, &r.Breakdown.Output, &r.Breakdown.Image, &r.Breakdown.Audio, &r.TotalCost,
			&metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

const budgetColumns = `id, name, limit_usd, period, thresholds, action,
	scope_type, scope_id, enabled, created_at, updated_at`

func (s *SQLite) SaveBudget(ctx context.Context, budget *model.Budget) error {
	thresholds, err := json.Marshal(budget.Thresholds)
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	var scopeType, scopeID string
	if budget.Scope != nil {
		scopeType, scopeID = budget.Scope.Type, budget.Scope.ID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO budgets (`+budgetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   limit_usd = excluded.limit_usd,
		   period = excluded.period,
		   thresholds = excluded.thresholds,
		   action = excluded.action,
		   scope_type = excluded.scope_type,
		   scope_id = excluded.scope_id,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`,
		budget.ID, budget.Name, budget.LimitUSD, budget.Period, string(thresholds), budget.Action,
		scopeType, scopeID, budget.Enabled, budget.CreatedAt.UnixNano(), budget.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save budget: %w", err)
	}
	return nil
}

func (s *SQLite) GetBudget(ctx context.Context, id string) (*model.Budget, error) {
	budgets, err := s.queryBudgets(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(budgets) == 0 {
		return nil, fmt.Errorf("budget %q: %w", id, ErrNotFound)
	}
	return &budgets[0], nil
}

func (s *SQLite) ListBudgets(ctx context.Context) ([]model.Budget, error) {
	return s.queryBudgets(ctx, "")
}

func (s *SQLite) queryBudgets(ctx context.Context, where string, args ...any) ([]model.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets "+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	budgets := make([]model.Budget, 0)
	for rows.Next() {
		var (
			b                    model.Budget
			thresholds           string
			scopeType, scopeID   string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.LimitUSD, &b.Period, &thresholds, &b.Action,
			&scopeType, &scopeID, &b.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan budget row: %w", err)
		}
		if err := json.Unmarshal([]byte(thresholds), &b.Thresholds); err != nil {
			return nil, fmt.Errorf("decode thresholds for %s: %w", b.ID, err)
		}
		if scopeID != "" {
			b.Scope = &model.BudgetScope{Type: scopeType, ID: scopeID}
		}
		b.CreatedAt = time.Unix(0, createdAt).UTC()
		b.UpdatedAt = time.Unix(0, updatedAt).UTC()
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (s *SQLite) DeleteBudget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete budget: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("budget %q: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE budget_id = ?`, id); err != nil {
		return fmt.Errorf("delete budget alerts: %w", err)
	}
	return tx.Commit()
}

const alertColumns = `id, budget_id, budget_name, period, threshold, spend, limit_usd, severity, message, window_start, created_at, acknowledged`

func (s *SQLite) SaveAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM budgets WHERE id = ?)`,
		alert.ID, alert.BudgetID, alert.BudgetName, alert.Period, alert.Threshold, alert.Spend, alert.Limit,
		alert.Severity, alert.Message, alert.WindowStart.UnixNano(), alert.CreatedAt.UnixNano(), alert.Acknowledged,
		alert.BudgetID,
	)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("budget %q: %w", alert.BudgetID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) HasAlert(ctx context.Context, budgetID string, threshold float64, windowStart time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM alerts WHERE budget_id = ? AND threshold = ? AND window_start = ?)`,
		budgetID, threshold, windowStart.UnixNano(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check alert: %w", err)
	}
	return exists, nil
}

func (s *SQLite) ListAlerts(ctx context.Context, budgetID string) ([]model.Alert, error) {
	if budgetID == "" {
		return s.queryAlerts(ctx, "")
	}
	return s.queryAlerts(ctx, "WHERE a.budget_id = ?", budgetID)
}

func (s *SQLite) ListUnacknowledgedAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.queryAlerts(ctx, "WHERE a.acknowledged = 0")
}

// queryAlerts orders by budget insertion order, then alert insertion order.
func (s *SQLite) queryAlerts(ctx context.Context, where string, args ...any) ([]model.Alert, error) {
	cols := "a." + strings.ReplaceAll(alertColumns, ", ", ", a.")
	query := "SELECT " + cols + " FROM alerts a JOIN budgets b ON b.id = a.budget_id " +
		where + " ORDER BY b.rowid, a.rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]model.Alert, 0)
	for rows.Next() {
		var (
			a                      model.Alert
			windowStart, createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.BudgetID, &a.BudgetName, &a.Period, &a.Threshold, &a.Spend, &a.Limit,
			&a.Severity, &a.Message, &windowStart, &createdAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.WindowStart = time.Unix(0, windowStart).UTC()
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLite) AcknowledgeAlert(ctx context.Context, budgetID, alertID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1 WHERE id = ? AND budget_id = ?`, alertID, budgetID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %q on budget %q: %w", alertID, budgetID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause constructs a SQL WHERE clause from a ReportFilter. Time
// bounds are inclusive.
func buildWhereClause(filter model.ReportFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.ScopeID != "" {
		conditions = append(conditions, "scope_id = ?")
		args = append(args, filter.ScopeID)
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.EndTime.UnixNano())
	}

	return strings.Join(conditions, " AND "), args
}
