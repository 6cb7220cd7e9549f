package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// AccessEvent is one recorded rule violation.
type AccessEvent struct {
	ID         string
	Timestamp  time.Time
	PolicyName string
	Version    string
	Target     string
	Decision   string // "deny" or "audit"
	Process    ProcessSnapshot
}

// ProcessSnapshot captures the instigating process's identity at decision
// time. It is stored as a single CBOR blob so identity fields can evolve
// without schema migrations.
type ProcessSnapshot struct {
	Pid            int    `cbor:"pid"`
	BinaryPath     string `cbor:"binary_path"`
	SigningID      string `cbor:"signing_id,omitempty"`
	TeamID         string `cbor:"team_id,omitempty"`
	CDHash         string `cbor:"cdhash,omitempty"`
	CertSHA256     string `cbor:"cert_sha256,omitempty"`
	PlatformBinary bool   `cbor:"platform_binary,omitempty"`
}

// Store is a SQLite-backed access event log.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "warden.db"
	}
	return filepath.Join(home, ".local", "share", "warden", "events.db")
}

// Open opens (creating if necessary) the event database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the CLI read events while the daemon writes them.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Without a busy timeout, concurrent writes immediately return
	// SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS access_events (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		policy_name TEXT NOT NULL,
		policy_version TEXT DEFAULT '',
		target TEXT NOT NULL,
		decision TEXT NOT NULL,
		process BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_access_events_timestamp ON access_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_access_events_policy ON access_events(policy_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Record inserts one access event. The event's ID and timestamp are
// assigned here when unset.
func (s *Store) Record(ev AccessEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	blob, err := cbor.Marshal(ev.Process)
	if err != nil {
		return fmt.Errorf("encode process snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO access_events (id, timestamp, policy_name, policy_version, target, decision, process)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.Unix(), ev.PolicyName, ev.Version, ev.Target, ev.Decision, blob,
	)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first, up to limit. A
// non-empty policyName filters to that rule.
func (s *Store) List(policyName string, limit int) ([]AccessEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, policy_name, policy_version, target, decision, process
		FROM access_events`
	args := []any{}
	if policyName != "" {
		query += ` WHERE policy_name = ?`
		args = append(args, policyName)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var events []AccessEvent
	for rows.Next() {
		var ev AccessEvent
		var ts int64
		var blob []byte
		if err := rows.Scan(&ev.ID, &ts, &ev.PolicyName, &ev.Version, &ev.Target, &ev.Decision, &blob); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0)
		if err := cbor.Unmarshal(blob, &ev.Process); err != nil {
			return nil, fmt.Errorf("decode process snapshot: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events older than the cutoff and returns the number
// removed.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM access_events WHERE timestamp < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune access events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of stored events.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM access_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count access events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
