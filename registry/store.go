// Package registry is the reference registry service: an HTTP front end
// over a SQLite table of agent self-descriptions. Any process speaking the
// same contract can replace it; core.HTTPRegistry is its client.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsneelabh/agentrelay/core"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps registrations in SQLite (implements core.Registry).
// Capabilities are stored in their serialized form and matched with LIKE,
// so discovery is a case-insensitive substring match as in every other
// registry binding.
type SQLiteStore struct {
	db     *sql.DB
	logger core.Logger
}

// OpenSQLiteStore opens or creates the database at path. ":memory:" keeps
// everything in process.
func OpenSQLiteStore(path string, logger core.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("registry/store")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", map[string]interface{}{"path": path})
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid          TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			capabilities  TEXT NOT NULL,
			info          TEXT NOT NULL,
			registered_at TEXT NOT NULL
		);
	`)
	return err
}

// Register stores info under a new uuid.
func (s *SQLiteStore) Register(ctx context.Context, info *core.AgentInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("nil agent info: %w", core.ErrInvalidArgument)
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encoding agent info: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (uuid, name, capabilities, info, registered_at) VALUES (?, ?, ?, ?, ?)`,
		id, info.Name, core.SerializeCapabilities(info.Capabilities), string(raw),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", s.wrap(core.KindRegistration, "registry.Register", info.Name, err)
	}

	s.logger.Info("Agent registered", map[string]interface{}{
		"uuid":         id,
		"name":         info.Name,
		"capabilities": info.Capabilities,
	})
	return id, nil
}

// Withdraw deletes the record for id.
func (s *SQLiteStore) Withdraw(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE uuid = ?`, id)
	if err != nil {
		return s.wrap(core.KindRegistration, "registry.Withdraw", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(core.KindRegistration, "registry.Withdraw", id, err)
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", id, core.ErrAgentNotFound)
	}

	s.logger.Info("Agent withdrawn", map[string]interface{}{"uuid": id})
	return nil
}

// Discover returns agents whose serialized capabilities contain capability,
// in registration order.
func (s *SQLiteStore) Discover(ctx context.Context, capability string) ([]*core.AgentRef, error) {
	pattern := "%" + escapeLike(strings.ToLower(capability)) + "%"
	return s.query(ctx, "registry.Discover",
		`SELECT uuid, name, capabilities FROM agents WHERE lower(capabilities) LIKE ? ESCAPE '\' ORDER BY seq`,
		pattern)
}

// FetchAll returns every agent in registration order.
func (s *SQLiteStore) FetchAll(ctx context.Context) ([]*core.AgentRef, error) {
	return s.query(ctx, "registry.FetchAll", `SELECT uuid, name, capabilities FROM agents ORDER BY seq`)
}

// Lookup returns the full self-description stored under id.
func (s *SQLiteStore) Lookup(ctx context.Context, id string) (*core.AgentInfo, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT info FROM agents WHERE uuid = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, core.ErrAgentNotFound)
	}
	if err != nil {
		return nil, s.wrap(core.KindDiscovery, "registry.Lookup", id, err)
	}
	var info core.AgentInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, s.wrap(core.KindDiscovery, "registry.Lookup", id, err)
	}
	return &info, nil
}

// Count returns the number of registered agents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, s.wrap(core.KindDiscovery, "registry.Count", "", err)
	}
	return n, nil
}

// Reset deletes every registration.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agents`); err != nil {
		return s.wrap(core.KindRegistration, "registry.Reset", "", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, op, q string, args ...interface{}) ([]*core.AgentRef, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(core.KindDiscovery, op, "", err)
	}
	defer rows.Close()

	refs := make([]*core.AgentRef, 0)
	for rows.Next() {
		var ref core.AgentRef
		var caps string
		if err := rows.Scan(&ref.UUID, &ref.Name, &caps); err != nil {
			return nil, s.wrap(core.KindDiscovery, op, "", err)
		}
		ref.Capabilities = core.ParseCapabilities(caps)
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(core.KindDiscovery, op, "", err)
	}
	return refs, nil
}

func (s *SQLiteStore) wrap(kind, op, id string, err error) error {
	return &core.FrameworkError{Op: op, Kind: kind, ID: id, Err: err}
}

// escapeLike escapes the LIKE wildcards so the query is a plain substring.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ core.Registry = (*SQLiteStore)(nil)
