package storage

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/continuous-claude/continuous-claude/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		prompt TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		stop_reason TEXT,
		total_cost REAL NOT NULL DEFAULT 0,
		iterations INTEGER NOT NULL DEFAULT 0,
		completion_signal TEXT
	);

	CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		idx INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		display_text TEXT,
		exit_code INTEGER,
		cost REAL,
		branch TEXT,
		claude_session_id TEXT,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		UNIQUE(session_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_iterations_session ON iterations(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateSession(session *models.Session) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO sessions (prompt, status, completion_signal)
		 VALUES (?, ?, ?)`,
		session.Prompt, session.Status, session.CompletionSignal,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetSession(id int64) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, prompt, status, stop_reason, total_cost, iterations, completion_signal
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var completedAt sql.NullTime
	var stopReason, signal sql.NullString

	err := row.Scan(
		&session.ID, &session.CreatedAt, &completedAt, &session.Prompt,
		&session.Status, &stopReason, &session.TotalCost, &session.Iterations, &signal,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}
	if stopReason.Valid {
		session.StopReason = stopReason.String
	}
	if signal.Valid {
		session.CompletionSignal = signal.String
	}

	return &session, nil
}

func (s *Storage) UpdateSession(session *models.Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET completed_at = ?, status = ?, stop_reason = ?, total_cost = ?, iterations = ?
		 WHERE id = ?`,
		session.CompletedAt, session.Status, session.StopReason,
		session.TotalCost, session.Iterations, session.ID,
	)
	return err
}

func (s *Storage) ListSessions(limit int) ([]*models.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, prompt, status, stop_reason, total_cost, iterations, completion_signal
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (s *Storage) CreateIteration(iter *models.Iteration) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO iterations (session_id, idx, outcome, display_text, exit_code, cost, branch, claude_session_id, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iter.SessionID, iter.Index, iter.Outcome, iter.DisplayText,
		iter.ExitCode, iter.Cost, iter.Branch, iter.ClaudeSessionID,
		iter.StartedAt, iter.CompletedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetIterationsForSession(sessionID int64) ([]*models.Iteration, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, idx, outcome, display_text, exit_code, cost, branch, claude_session_id, started_at, completed_at
		 FROM iterations WHERE session_id = ? ORDER BY idx`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iters []*models.Iteration
	for rows.Next() {
		var iter models.Iteration
		var displayText, branch, claudeSessionID sql.NullString
		var exitCode sql.NullInt64
		var cost sql.NullFloat64
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&iter.ID, &iter.SessionID, &iter.Index, &iter.Outcome, &displayText,
			&exitCode, &cost, &branch, &claudeSessionID, &startedAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}

		if displayText.Valid {
			iter.DisplayText = displayText.String
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			iter.ExitCode = &code
		}
		if cost.Valid {
			c := cost.Float64
			iter.Cost = &c
		}
		if branch.Valid {
			iter.Branch = branch.String
		}
		if claudeSessionID.Valid {
			iter.ClaudeSessionID = claudeSessionID.String
		}
		if startedAt.Valid {
			iter.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			iter.CompletedAt = &completedAt.Time
		}

		iters = append(iters, &iter)
	}

	return iters, rows.Err()
}

func (s *Storage) DeleteSession(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM iterations WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}
