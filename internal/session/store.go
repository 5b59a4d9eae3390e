package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is an append-only transcript store backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the transcript database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		tool_calls   TEXT,
		tool_call_id TEXT,
		tool_name    TEXT,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendTurn appends one turn to a session's transcript.
func (s *Store) AppendTurn(sessionID string, turn Turn) error {
	var toolCalls sql.NullString
	if len(turn.ToolCalls) > 0 {
		encoded, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(encoded), Valid: true}
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turn.Role, turn.Content, toolCalls, turn.ToolCallID, turn.ToolName,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", sessionID, err)
	}
	return nil
}

// LoadHistory returns a session's turns in append order. A session with no
// turns yields an empty (non-nil) slice.
func (s *Store) LoadHistory(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT role, content, tool_calls, tool_call_id, tool_name, created_at
		 FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var turn Turn
		var toolCalls, toolCallID, toolName sql.NullString
		var createdAt string

		if err := rows.Scan(&turn.Role, &turn.Content, &toolCalls, &toolCallID, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn for %s: %w", sessionID, err)
		}

		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for %s: %w", sessionID, err)
			}
		}
		turn.ToolCallID = toolCallID.String
		turn.ToolName = toolName.String
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			turn.CreatedAt = ts
		}

		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// ListSessions summarizes every stored session, most recently updated first.
func (s *Store) ListSessions() ([]Info, error) {
	rows, err := s.db.Query(
		`SELECT session_id, COUNT(*), MAX(created_at)
		 FROM turns GROUP BY session_id ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updatedAt string
		if err := rows.Scan(&info.SessionID, &info.TurnCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session info: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			info.UpdatedAt = ts
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Clear removes every turn of a session. No error is returned when the
// session does not exist.
func (s *Store) Clear(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}
