package db

// Schema defines the SQLite schema for the run ledger.
// Every orchestration attempt, install or resume, is one row.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    device_name TEXT NOT NULL,
    registration_id TEXT NOT NULL,
    phase TEXT NOT NULL CHECK(phase IN ('install', 'resume')),
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed', 'restart_pending', 'cancelled')),
    progress INTEGER NOT NULL DEFAULT 0,
    last_stage TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Phase constants
const (
	PhaseInstall = "install"
	PhaseResume  = "resume"
)

// Status constants
const (
	StatusRunning        = "running"
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
	StatusRestartPending = "restart_pending"
	StatusCancelled      = "cancelled"
)

// Run represents one orchestration attempt
type Run struct {
	ID             string
	DeviceName     string
	RegistrationID string
	Phase          string
	Status         string
	Progress       int
	LastStage      string
	ErrorMessage   string
	CreatedAt      string
	UpdatedAt      string
}

// Finished reports whether the run reached a terminal status
func (r *Run) Finished() bool {
	return r.Status != StatusRunning
}
