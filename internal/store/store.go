// Package store persists completed diagnostic runs, audit events and user
// accounts in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveRun persists a finished run record. The full record is stored as
// JSON alongside the columns the API queries on.
func (s *Store) SaveRun(ctx context.Context, rec *diagnosis.RunRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (run_id, patient_id, triage_level, fatal_step, error_message, record, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (run_id) DO UPDATE SET
			triage_level = EXCLUDED.triage_level,
			fatal_step = EXCLUDED.fatal_step,
			error_message = EXCLUDED.error_message,
			record = EXCLUDED.record,
			finished_at = EXCLUDED.finished_at`,
		rec.RunID, rec.PatientID, rec.TriageLevel, rec.FatalStep, rec.Error, payload, rec.StartedAt, rec.FinishedAt)
	return err
}

// GetRun loads one run record by run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*diagnosis.RunRecord, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `SELECT record FROM runs WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec diagnosis.RunRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &rec, nil
}

// LatestRunByPatient loads the most recently finished run for a patient.
func (s *Store) LatestRunByPatient(ctx context.Context, patientID int) (*diagnosis.RunRecord, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT record FROM runs WHERE patient_id = $1
		ORDER BY finished_at DESC LIMIT 1`, patientID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec diagnosis.RunRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &rec, nil
}

// RunSummary is the list form of a stored run.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	PatientID   int       `json:"patient_id"`
	TriageLevel string    `json:"triage_level,omitempty"`
	FatalStep   string    `json:"fatal_step,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// ListRunsByPatient returns run summaries for a patient, newest first.
func (s *Store) ListRunsByPatient(ctx context.Context, patientID int, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, patient_id, triage_level, fatal_step, error_message, started_at, finished_at
		FROM runs WHERE patient_id = $1 ORDER BY finished_at DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.PatientID, &r.TriageLevel, &r.FatalStep, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneRunsBefore deletes runs finished before the cutoff, with their audit
// events, and returns how many runs were removed.
func (s *Store) PruneRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM audit_events WHERE run_id IN (SELECT run_id FROM runs WHERE finished_at < $1)`, cutoff); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAuditEvent persists one step event.
func (s *Store) InsertAuditEvent(ctx context.Context, runID, step, action, status, detail string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_events (run_id, step, action, status, detail)
		VALUES ($1,$2,$3,$4,$5)`, runID, step, action, status, detail)
	return err
}

// AuditEvent is one persisted step event.
type AuditEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAuditEvents returns the audit trail for a run in insertion order.
func (s *Store) ListAuditEvents(ctx context.Context, runID string) ([]AuditEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, step, action, status, detail, created_at
		FROM audit_events WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Action, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}
