// Package storage implements the outbound persistence collaborator (§6):
// append_decision, append_system_state, get_decisions, get_system_state,
// get_monthly_summary, backed by PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mjanicki/energy-core/model"
)

type Store struct {
	db *sql.DB
}

func Open(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the decision/state tables if they don't exist.
// Idempotent; safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			priority TEXT NOT NULL,
			inputs JSONB,
			derived_metrics JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions (ts)`,
		`CREATE TABLE IF NOT EXISTS system_states (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			soc_percent DOUBLE PRECISION NOT NULL,
			battery_temp_c DOUBLE PRECISION NOT NULL,
			pv_power_w DOUBLE PRECISION NOT NULL,
			load_power_w DOUBLE PRECISION NOT NULL,
			grid_power_w DOUBLE PRECISION NOT NULL,
			grid_voltage_v DOUBLE PRECISION NOT NULL,
			derived_metrics JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_states_ts ON system_states (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// AppendDecision inserts a decision record.
func (s *Store) AppendDecision(ctx context.Context, rec model.DecisionRecord) error {
	inputs, err := json.Marshal(rec.InputsSnapshot)
	if err != nil {
		return fmt.Errorf("marshal inputs snapshot: %w", err)
	}
	derived, err := json.Marshal(rec.DerivedMetrics)
	if err != nil {
		return fmt.Errorf("marshal derived metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (ts, kind, action, reason, confidence, priority, inputs, derived_metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.Timestamp, string(rec.Kind), rec.Action, rec.Reason, rec.Confidence, string(rec.Priority), inputs, derived)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// AppendSystemState inserts a snapshot plus derived metrics (e.g. forecast
// scores, thresholds in effect) computed for that tick.
func (s *Store) AppendSystemState(ctx context.Context, snap model.SystemSnapshot, derived map[string]float64) error {
	data, err := json.Marshal(derived)
	if err != nil {
		return fmt.Errorf("marshal derived metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_states (ts, soc_percent, battery_temp_c, pv_power_w, load_power_w, grid_power_w, grid_voltage_v, derived_metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.Timestamp, snap.SOCPercent, snap.BatteryTempC, snap.PVPowerW, snap.LoadPowerW, snap.GridPowerW, snap.GridVoltageV, data)
	if err != nil {
		return fmt.Errorf("append system state: %w", err)
	}
	return nil
}

// GetDecisions returns decision records in [from, to], ordered by time.
func (s *Store) GetDecisions(ctx context.Context, from, to time.Time) ([]model.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, kind, action, reason, confidence, priority, inputs, derived_metrics
		FROM decisions
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionRecord
	for rows.Next() {
		var rec model.DecisionRecord
		var inputs, derived sql.NullString
		if err := rows.Scan(&rec.Timestamp, &rec.Kind, &rec.Action, &rec.Reason, &rec.Confidence, &rec.Priority, &inputs, &derived); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		if inputs.Valid {
			_ = json.Unmarshal([]byte(inputs.String), &rec.InputsSnapshot)
		}
		if derived.Valid {
			_ = json.Unmarshal([]byte(derived.String), &rec.DerivedMetrics)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}

// GetSystemState returns the most recent `limit` snapshots, newest first.
func (s *Store) GetSystemState(ctx context.Context, limit int) ([]model.SystemSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, soc_percent, battery_temp_c, pv_power_w, load_power_w, grid_power_w, grid_voltage_v
		FROM system_states
		ORDER BY ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system states: %w", err)
	}
	defer rows.Close()

	var out []model.SystemSnapshot
	for rows.Next() {
		var snap model.SystemSnapshot
		if err := rows.Scan(&snap.Timestamp, &snap.SOCPercent, &snap.BatteryTempC, &snap.PVPowerW, &snap.LoadPowerW, &snap.GridPowerW, &snap.GridVoltageV); err != nil {
			return nil, fmt.Errorf("scan system state row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system state rows: %w", err)
	}
	return out, nil
}

// MonthlySummary aggregates a calendar month of decisions.
type MonthlySummary struct {
	Year             int     `json:"year"`
	Month            int     `json:"month"`
	ChargeCount      int     `json:"charge_count"`
	SellCount        int     `json:"sell_count"`
	WaitCount        int     `json:"wait_count"`
	TotalRevenuePLN  float64 `json:"total_revenue_pln"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMonthlySummary aggregates decision counts and revenue for a month.
// Revenue is read out of each decision's derived_metrics["revenue_pln"].
func (s *Store) GetMonthlySummary(ctx context.Context, year int, month time.Month) (MonthlySummary, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	summary := MonthlySummary{Year: year, Month: int(month)}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'charge'),
			COUNT(*) FILTER (WHERE kind = 'sell'),
			COUNT(*) FILTER (WHERE kind = 'wait'),
			COALESCE(AVG(confidence), 0),
			COALESCE(SUM((derived_metrics->>'revenue_pln')::double precision), 0)
		FROM decisions
		WHERE ts >= $1 AND ts < $2
	`, start, end)
	if err := row.Scan(&summary.ChargeCount, &summary.SellCount, &summary.WaitCount, &summary.AverageConfidence, &summary.TotalRevenuePLN); err != nil {
		return MonthlySummary{}, fmt.Errorf("aggregate monthly summary: %w", err)
	}
	return summary, nil
}
