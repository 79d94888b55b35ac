// ABOUTME: SQLite-backed persisted log for the demo backend: sessions, entries, and frozen snapshots.
// ABOUTME: The dashboard's consistency handling exists because of this store's availability lag.
package sim

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/windlass-sh/masthead/cascade"
)

// LogStore is the demo backend's persisted execution log. It mirrors the
// production backend's SQL layer closely enough that the dashboard's
// finalize/confirm flow behaves identically against it.
type LogStore struct {
	db *sql.DB
}

// OpenStore opens or creates the demo log database at path. Use ":memory:"
// for tests.
func OpenStore(path string) (*LogStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			cascade_id TEXT NOT NULL,
			parent_session_id TEXT,
			depth INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			start_time TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			phase_name TEXT,
			sounding_index INTEGER,
			reforge_step INTEGER,
			turn_number INTEGER,
			is_winner INTEGER NOT NULL DEFAULT 0,
			model TEXT,
			cost REAL NOT NULL DEFAULT 0,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL,
			content TEXT,
			metadata TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, timestamp);

		CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			frozen_at TEXT NOT NULL,
			data TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &LogStore{db: db}, nil
}

// Close closes the database.
func (s *LogStore) Close() error {
	return s.db.Close()
}

// CreateSession upserts a session row in the running state.
func (s *LogStore) CreateSession(sess cascade.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, cascade_id, parent_session_id, depth, status, start_time)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status`,
		sess.SessionID,
		sess.CascadeID,
		sess.ParentSessionID,
		sess.Depth,
		string(sess.Status),
		sess.StartTime.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SetSessionStatus updates a session's terminal status.
func (s *LogStore) SetSessionStatus(sessionID, status string) error {
	_, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// ListSessions returns a cascade's sessions, newest first, with their
// summed cost.
func (s *LogStore) ListSessions(cascadeID string) ([]SessionRow, error) {
	rows, err := s.db.Query(
		`SELECT s.session_id, s.cascade_id, COALESCE(s.parent_session_id, ''), s.depth, s.status, s.start_time,
			COALESCE((SELECT SUM(cost) FROM entries e WHERE e.session_id = s.session_id), 0)
		 FROM sessions s WHERE s.cascade_id = ? ORDER BY s.start_time DESC`,
		cascadeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var start string
		if err := rows.Scan(&r.SessionID, &r.CascadeID, &r.ParentSessionID, &r.Depth, &r.Status, &start, &r.Cost); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.StartTime, _ = time.Parse(time.RFC3339Nano, start)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionRow is one session listing row with its aggregate cost.
type SessionRow struct {
	SessionID       string
	CascadeID       string
	ParentSessionID string
	Depth           int
	Status          string
	StartTime       time.Time
	Cost            float64
}

// CascadeStats returns run count and total cost for a cascade definition.
func (s *LogStore) CascadeStats(cascadeID string) (runs int, totalCost float64, lastRun time.Time, err error) {
	var last sql.NullString
	err = s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE((SELECT SUM(cost) FROM entries e
				WHERE e.session_id IN (SELECT session_id FROM sessions WHERE cascade_id = ?)), 0),
			MAX(start_time)
		 FROM sessions WHERE cascade_id = ?`,
		cascadeID, cascadeID,
	).Scan(&runs, &totalCost, &last)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("cascade stats: %w", err)
	}
	if last.Valid {
		lastRun, _ = time.Parse(time.RFC3339Nano, last.String)
	}
	return runs, totalCost, lastRun, nil
}

// AppendEntry writes one log entry row.
func (s *LogStore) AppendEntry(sessionID string, e cascade.LogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (session_id, node_type, phase_name, sounding_index, reforge_step,
			turn_number, is_winner, model, cost, tokens_in, tokens_out, duration_ms, timestamp, content, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		string(e.NodeType),
		e.PhaseName,
		nullableInt(e.SoundingIndex),
		nullableInt(e.ReforgeStep),
		nullableInt(e.TurnNumber),
		boolToInt(e.IsWinner),
		e.Model,
		e.Cost,
		e.TokensIn,
		e.TokensOut,
		e.DurationMS,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Content,
		string(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// SessionEntries reads a session's full flat log in timestamp order.
func (s *LogStore) SessionEntries(sessionID string) ([]cascade.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT node_type, COALESCE(phase_name, ''), sounding_index, reforge_step, turn_number,
			is_winner, COALESCE(model, ''), cost, tokens_in, tokens_out, duration_ms,
			timestamp, COALESCE(content, ''), COALESCE(metadata, '')
		 FROM entries WHERE session_id = ? ORDER BY timestamp, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []cascade.LogEntry
	for rows.Next() {
		var e cascade.LogEntry
		var nodeType, ts, metadata string
		var sounding, reforge, turn sql.NullInt64
		var winner int
		if err := rows.Scan(&nodeType, &e.PhaseName, &sounding, &reforge, &turn,
			&winner, &e.Model, &e.Cost, &e.TokensIn, &e.TokensOut, &e.DurationMS,
			&ts, &e.Content, &metadata); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.NodeType = cascade.NodeType(nodeType)
		e.SoundingIndex = intFromNull(sounding)
		e.ReforgeStep = intFromNull(reforge)
		e.TurnNumber = intFromNull(turn)
		e.IsWinner = winner != 0
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if metadata != "" {
			e.Metadata = json.RawMessage(metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FreezeSnapshot stores a session's full log under a name for regression
// testing. Freezing the same name twice overwrites.
func (s *LogStore) FreezeSnapshot(name, sessionID string) error {
	entries, err := s.SessionEntries(sessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (name, session_id, frozen_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET session_id = excluded.session_id,
			frozen_at = excluded.frozen_at, data = excluded.data`,
		name, sessionID, time.Now().UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
