// Package journal keeps a SQLite record of clicker sessions and the actions
// taken in them.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for unknown sessions
var ErrNotFound = errors.New("not found")

// Session is one enabled period of the clicker
type Session struct {
	ID         string `json:"id"`
	DeviceID   string `json:"deviceId"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	EndReason  string `json:"endReason,omitempty"`
	EventCount int    `json:"eventCount"`
}

// Entry is one journaled event
type Entry struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER DEFAULT 0,
    end_reason TEXT,
    event_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_time ON sessions(start_time DESC);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    kind TEXT NOT NULL,
    text TEXT,
    detail TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_session_time ON events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Config for opening a Store
type Config struct {
	// Path of the database file; ":memory:" keeps everything in memory
	Path          string
	FlushInterval time.Duration
	Logger        *zerolog.Logger
}

// Store is the SQLite journal. Event writes are buffered and flushed in batches.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	writeBuffer   []Entry
	writeBufferMu sync.Mutex
	flushMu       sync.Mutex
	flushInterval time.Duration
	stopChan      chan struct{}
	writerDone    chan struct{}
	closeOnce     sync.Once

	stmtInsertEvent   *sql.Stmt
	stmtInsertSession *sql.Stmt
	stmtEndSession    *sql.Stmt
}

// Open opens (creating if needed) the journal database
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := "file::memory:?_foreign_keys=ON"
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:            db,
		log:           zerolog.Nop(),
		writeBuffer:   make([]Entry, 0, 64),
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		writerDone:    make(chan struct{}),
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	if s.flushInterval <= 0 {
		s.flushInterval = 500 * time.Millisecond
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.startBackgroundWriter()
	return s, nil
}

func (s *Store) prepareStatements() error {
	var err error
	s.stmtInsertEvent, err = s.db.Prepare(`
		INSERT INTO events (id, session_id, timestamp, kind, text, detail)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	s.stmtInsertSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, device_id, start_time) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	s.stmtEndSession, err = s.db.Prepare(`
		UPDATE sessions
		SET end_time = ?, end_reason = ?,
		    event_count = (SELECT COUNT(*) FROM events WHERE session_id = ?)
		WHERE id = ?`)
	return err
}

func (s *Store) startBackgroundWriter() {
	ticker := time.NewTicker(s.flushInterval)
	go func() {
		defer close(s.writerDone)
		for {
			select {
			case <-ticker.C:
				s.Flush()
			case <-s.stopChan:
				ticker.Stop()
				s.Flush()
				return
			}
		}
	}()
}

// Close flushes pending events and closes the database
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		<-s.writerDone

		for _, stmt := range []*sql.Stmt{s.stmtInsertEvent, s.stmtInsertSession, s.stmtEndSession} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

// ========================================
// Sessions
// ========================================

// StartSession records the start of a session
func (s *Store) StartSession(id, deviceID string, start time.Time) error {
	if _, err := s.stmtInsertSession.Exec(id, deviceID, start.UnixMilli()); err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// EndSession flushes the session's events and records its end
func (s *Store) EndSession(id, reason string, end time.Time) error {
	s.Flush()
	res, err := s.stmtEndSession.Exec(end.UnixMilli(), nullString(reason), id, id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}

// GetSession returns one session
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, start_time, end_time, end_reason, event_count
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return sess, err
}

// ListSessions returns the newest sessions first
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, device_id, start_time, end_time, end_reason, event_count
		FROM sessions ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var reason sql.NullString
	if err := row.Scan(&sess.ID, &sess.DeviceID, &sess.StartTime, &sess.EndTime, &reason, &sess.EventCount); err != nil {
		return nil, err
	}
	sess.EndReason = reason.String
	return &sess, nil
}

// CleanupOldSessions deletes finished sessions older than maxAge with their events
func (s *Store) CleanupOldSessions(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE end_time > 0 AND end_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ========================================
// Events
// ========================================

// WriteEvent buffers an event; it never blocks on the database
func (s *Store) WriteEvent(e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	s.writeBufferMu.Lock()
	s.writeBuffer = append(s.writeBuffer, e)
	s.writeBufferMu.Unlock()
}

// Flush writes buffered events. It returns once they are committed.
func (s *Store) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.writeBufferMu.Lock()
	if len(s.writeBuffer) == 0 {
		s.writeBufferMu.Unlock()
		return
	}
	entries := s.writeBuffer
	s.writeBuffer = make([]Entry, 0, 64)
	s.writeBufferMu.Unlock()

	if err := s.writeBatch(entries); err != nil {
		s.log.Error().Err(err).Int("count", len(entries)).Msg("Failed to flush journal")
	}
}

func (s *Store) writeBatch(entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A failed insert does not abort the transaction in SQLite, so one bad row
	// is skipped and the rest of the batch still commits.
	stmt := tx.Stmt(s.stmtInsertEvent)
	for _, e := range entries {
		if _, err := stmt.Exec(e.ID, e.SessionID, e.Timestamp, e.Kind, nullString(e.Text), nullString(e.Detail)); err != nil {
			s.log.Warn().Err(err).Str("id", e.ID).Str("session", e.SessionID).Str("kind", e.Kind).Msg("Dropping journal event")
		}
	}
	return tx.Commit()
}

// Recent returns the newest events across sessions, newest first
func (s *Store) Recent(limit int) ([]Entry, error) {
	return s.query(`
		SELECT id, session_id, timestamp, kind, text, detail
		FROM events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limitOrDefault(limit))
}

// SessionEvents returns a session's events in order
func (s *Store) SessionEvents(sessionID string, limit int) ([]Entry, error) {
	return s.query(`
		SELECT id, session_id, timestamp, kind, text, detail
		FROM events WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC LIMIT ?`, sessionID, limitOrDefault(limit))
}

// KindCounts returns how many events of each kind a session has
func (s *Store) KindCounts(sessionID string) (map[string]int, error) {
	s.Flush()
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (s *Store) query(q string, args ...interface{}) ([]Entry, error) {
	s.Flush()
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var text, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.Kind, &text, &detail); err != nil {
			return nil, err
		}
		e.Text = text.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
