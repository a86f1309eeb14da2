// Package store persists proof sessions in SQLite so an interrupted
// refinement loop can resume from its last recorded attempt.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veriform/proofloop/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	fact_set      TEXT NOT NULL,
	max_attempts  INTEGER NOT NULL,
	max_duration  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	abort_reason  TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS attempts (
	session_id    TEXT NOT NULL,
	idx           INTEGER NOT NULL,
	source        TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	diagnostics   TEXT NOT NULL DEFAULT '',
	corrects      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, idx),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

// ErrNotFound indicates no session exists for the given id.
var ErrNotFound = errors.New("store: session not found")

// Store manages session records in SQLite. Attempt history is
// append-only: rows are inserted, never updated.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row with its current attempts.
func (s *Store) CreateSession(session *model.ProofSession) error {
	factSet, err := json.Marshal(session.FactSet)
	if err != nil {
		return fmt.Errorf("marshal fact set: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, fact_set, max_attempts, max_duration, status, abort_reason, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, string(factSet), session.Budget.MaxAttempts, int64(session.Budget.MaxDuration),
		string(session.Status), session.AbortReason, session.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, attempt := range session.Attempts {
		if err := insertAttempt(tx, session.ID, attempt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendAttempt records one attempt for the session.
func (s *Store) AppendAttempt(sessionID string, attempt model.ProofAttempt) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAttempt(tx, sessionID, attempt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertAttempt(tx *sql.Tx, sessionID string, attempt model.ProofAttempt) error {
	_, err := tx.Exec(
		`INSERT INTO attempts (session_id, idx, source, verdict, diagnostics, corrects, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, attempt.Index, attempt.Source, string(attempt.Verdict),
		attempt.Diagnostics, attempt.Corrects, attempt.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert attempt %d: %w", attempt.Index, err)
	}
	return nil
}

// FinishSession records the session's terminal status.
func (s *Store) FinishSession(sessionID string, status model.SessionStatus, reason string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, abort_reason = ?, finished_at = ? WHERE session_id = ?`,
		string(status), reason, finishedAt.UTC().Format(time.RFC3339Nano), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads a session with its full ordered attempt history.
func (s *Store) GetSession(sessionID string) (*model.ProofSession, error) {
	row := s.db.QueryRow(
		`SELECT fact_set, max_attempts, max_duration, status, abort_reason, started_at, finished_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	)

	var (
		factSetJSON string
		maxAttempts int
		maxDuration int64
		status      string
		abortReason string
		startedAt   string
		finishedAt  sql.NullString
	)
	if err := row.Scan(&factSetJSON, &maxAttempts, &maxDuration, &status, &abortReason, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session := &model.ProofSession{
		ID: sessionID,
		Budget: model.Budget{
			MaxAttempts: maxAttempts,
			MaxDuration: time.Duration(maxDuration),
		},
		Status:      model.SessionStatus(status),
		AbortReason: abortReason,
	}

	if err := json.Unmarshal([]byte(factSetJSON), &session.FactSet); err != nil {
		return nil, fmt.Errorf("unmarshal fact set: %w", err)
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	session.StartedAt = started

	if finishedAt.Valid {
		finished, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		session.FinishedAt = &finished
	}

	attempts, err := s.loadAttempts(sessionID)
	if err != nil {
		return nil, err
	}
	session.Attempts = attempts

	return session, nil
}

func (s *Store) loadAttempts(sessionID string) ([]model.ProofAttempt, error) {
	rows, err := s.db.Query(
		`SELECT idx, source, verdict, diagnostics, corrects, created_at
		 FROM attempts WHERE session_id = ? ORDER BY idx`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.ProofAttempt
	for rows.Next() {
		var (
			attempt   model.ProofAttempt
			verdict   string
			createdAt string
		)
		if err := rows.Scan(&attempt.Index, &attempt.Source, &verdict, &attempt.Diagnostics, &attempt.Corrects, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempt.Verdict = model.AttemptVerdict(verdict)
		created, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		attempt.CreatedAt = created
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}

// ListSessions returns session ids and statuses, newest first.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_id, status, started_at,
		        (SELECT COUNT(*) FROM attempts a WHERE a.session_id = sessions.session_id)
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []SessionSummary
	for rows.Next() {
		var (
			summary   SessionSummary
			status    string
			startedAt string
		)
		if err := rows.Scan(&summary.ID, &status, &startedAt, &summary.Attempts); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summary.Status = model.SessionStatus(status)
		if started, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			summary.StartedAt = started
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return summaries, nil
}

// SessionSummary is one row of ListSessions output.
type SessionSummary struct {
	ID        string
	Status    model.SessionStatus
	Attempts  int
	StartedAt time.Time
}
