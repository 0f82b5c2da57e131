package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for the run ledger
type Repository struct {
	db *sql.DB
}

// NewRepository opens the ledger, creating the file and schema if needed
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// The ledger is written by one process at a time
	db.SetMaxOpenConns(1)

	slog.Debug("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Debug("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run. An empty ID is assigned a fresh UUID.
func (r *Repository) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	slog.Info("database_create_run", "run_id", run.ID, "phase", run.Phase, "status", run.Status)

	query := `
		INSERT INTO runs (id, device_name, registration_id, phase, status, progress, last_stage, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.DeviceName, run.RegistrationID, run.Phase,
		run.Status, run.Progress, run.LastStage, run.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	return nil
}

const selectRun = `
	SELECT id, device_name, registration_id, phase, status, progress,
	       last_stage, error_message, created_at, updated_at
	FROM runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var lastStage, errorMessage sql.NullString

	err := s.Scan(
		&run.ID, &run.DeviceName, &run.RegistrationID, &run.Phase, &run.Status, &run.Progress,
		&lastStage, &errorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.LastStage = lastStage.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

// Get retrieves a run by id. A missing run returns nil, nil.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		slog.Debug("database_run_not_found", "run_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// UpdateProgress records the latest progress report
func (r *Repository) UpdateProgress(ctx context.Context, id string, percent int, stage string) error {
	query := `UPDATE runs SET progress = ?, last_stage = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, percent, stage, id); err != nil {
		slog.Error("database_progress_update_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to update progress")
	}
	return nil
}

// UpdateStatus sets the run status and error message
func (r *Repository) UpdateStatus(ctx context.Context, id, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", id)
		return fmt.Errorf("run not found: id=%s", id)
	}

	return nil
}

// List retrieves runs, newest first. A limit of zero returns every run.
func (r *Repository) List(ctx context.Context, limit int) ([]*Run, error) {
	query := selectRun + " ORDER BY created_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	return runs, nil
}

// Delete deletes a run by id
func (r *Repository) Delete(ctx context.Context, id string) error {
	slog.Info("database_delete_run", "run_id", id)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}
	return nil
}

// AbandonRunning marks runs still in running status as cancelled.
// Used by cleanup after a process died without recording an outcome.
func (r *Repository) AbandonRunning(ctx context.Context) (int64, error) {
	query := `UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?`
	result, err := r.db.ExecContext(ctx, query, StatusCancelled, "abandoned", StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to abandon running runs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("database_runs_abandoned", "count", n)
	return n, nil
}
