package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"adjudicator/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// conn writes through tx when one is open, otherwise straight to the database.
func (r Repo) conn(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// UpsertUnits writes unit records keyed by (task_id, unit_id). A later write for
// the same unit replaces the earlier one.
func (r Repo) UpsertUnits(ctx context.Context, tx *sql.Tx, units []domain.UnitRecord) error {
	c := r.conn(tx)
	for _, u := range units {
		if u.TaskID == "" || u.UnitID == "" {
			return fmt.Errorf("unit record requires task_id and unit_id")
		}
		_, err := c.ExecContext(ctx, `INSERT INTO units(task_id,unit_id,unit_type,claimed,verified,reason,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(task_id,unit_id) DO UPDATE SET unit_type=excluded.unit_type, claimed=excluded.claimed, verified=excluded.verified, reason=excluded.reason, created_at=excluded.created_at`,
			u.TaskID, u.UnitID, u.UnitType, u.Claimed, u.Verified, nullable(u.Reason), u.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert unit %s/%s: %w", u.TaskID, u.UnitID, err)
		}
	}
	return nil
}

// ListUnits returns a task's units ordered by unit id.
func (r Repo) ListUnits(ctx context.Context, taskID string) ([]domain.UnitRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,unit_id,unit_type,claimed,verified,COALESCE(reason,''),created_at FROM units WHERE task_id=? ORDER BY unit_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.UnitRecord{}
	for rows.Next() {
		var u domain.UnitRecord
		if err := rows.Scan(&u.TaskID, &u.UnitID, &u.UnitType, &u.Claimed, &u.Verified, &u.Reason, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// AppendMetrics adds metric samples. Samples are keyed by (task_id, k, created_at);
// re-recording the same instant overwrites the value.
func (r Repo) AppendMetrics(ctx context.Context, tx *sql.Tx, metrics []domain.MetricRecord) error {
	c := r.conn(tx)
	for _, m := range metrics {
		if m.TaskID == "" || m.Key == "" || m.CreatedAt == "" {
			return fmt.Errorf("metric record requires task_id, key and created_at")
		}
		_, err := c.ExecContext(ctx, `INSERT INTO task_metrics(task_id,k,v,created_at) VALUES (?,?,?,?)
ON CONFLICT(task_id,k,created_at) DO UPDATE SET v=excluded.v`,
			m.TaskID, m.Key, m.Value, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("append metric %s/%s: %w", m.TaskID, m.Key, err)
		}
	}
	return nil
}

// LatestMetrics returns the most recent sample of every metric for a task, ordered by key.
func (r Repo) LatestMetrics(ctx context.Context, taskID string) ([]domain.MetricRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.task_id,m.k,m.v,m.created_at FROM task_metrics m
WHERE m.task_id=? AND m.created_at=(SELECT MAX(created_at) FROM task_metrics WHERE task_id=m.task_id AND k=m.k)
ORDER BY m.k`, taskID)
	if err != nil {
		return nil, err
	}
	return scanMetrics(rows)
}

// MetricHistory returns every sample of one metric, oldest first.
func (r Repo) MetricHistory(ctx context.Context, taskID, key string) ([]domain.MetricRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,k,v,created_at FROM task_metrics WHERE task_id=? AND k=? ORDER BY created_at`, taskID, key)
	if err != nil {
		return nil, err
	}
	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]domain.MetricRecord, error) {
	defer rows.Close()
	res := []domain.MetricRecord{}
	for rows.Next() {
		var m domain.MetricRecord
		if err := rows.Scan(&m.TaskID, &m.Key, &m.Value, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	if s.TaskID == "" {
		return fmt.Errorf("session requires task_id")
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO sessions(task_id,status,type,profile,gate_type,units_claimed,units_verified,checks_total,checks_failed,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET status=excluded.status, type=excluded.type, profile=excluded.profile, gate_type=excluded.gate_type,
units_claimed=excluded.units_claimed, units_verified=excluded.units_verified, checks_total=excluded.checks_total,
checks_failed=excluded.checks_failed, updated_at=excluded.updated_at`,
		s.TaskID, s.Status, s.Type, s.Profile, nullable(s.GateType), s.UnitsClaimed, s.UnitsVerified, s.ChecksTotal, s.ChecksFailed, s.UpdatedAt)
	return err
}

const sessionColumns = `task_id,status,type,profile,COALESCE(gate_type,''),units_claimed,units_verified,checks_total,checks_failed,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.TaskID, &s.Status, &s.Type, &s.Profile, &s.GateType, &s.UnitsClaimed, &s.UnitsVerified, &s.ChecksTotal, &s.ChecksFailed, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSession(ctx context.Context, taskID string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE task_id=?`, taskID))
}

type SessionFilters struct {
	Status          string
	Type            string
	Limit           int
	CursorUpdatedAt string
	CursorTaskID    string
}

// ListSessions returns sessions newest first. The cursor is the (updated_at, task_id)
// pair of the last row of the previous page.
func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CursorUpdatedAt != "" && f.CursorTaskID != "" {
		clauses = append(clauses, "(updated_at < ? OR (updated_at = ? AND task_id < ?))")
		args = append(args, f.CursorUpdatedAt, f.CursorUpdatedAt, f.CursorTaskID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions ` + where + ` ORDER BY updated_at DESC, task_id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSessionsByStatus powers the dashboard summary.
func (r Repo) CountSessionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{
		domain.StatusPass:         0,
		domain.StatusFail:         0,
		domain.StatusInconclusive: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
