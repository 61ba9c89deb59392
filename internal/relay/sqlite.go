package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/swipe/internal/model"
)

// migration represents a single schema migration step.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS relay_slot (
    slot INTEGER PRIMARY KEY CHECK (slot = 1),
    workspace_id TEXT NOT NULL DEFAULT '',
    producer TEXT NOT NULL DEFAULT '',
    credential TEXT NOT NULL DEFAULT '',
    notifications TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// slotRow is the single row of relay_slot. created_at holds Unix
// nanoseconds so the clock comparison is exact.
type slotRow struct {
	WorkspaceID   string `db:"workspace_id"`
	Producer      string `db:"producer"`
	Credential    string `db:"credential"`
	Notifications string `db:"notifications"`
	CreatedAt     int64  `db:"created_at"`
}

// SQLStore keeps the slot in a SQLite database. The default DSN is
// ":memory:", so nothing survives a restart unless a file is configured.
type SQLStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now Clock
}

// NewSQLStore opens (or creates) the database at dsn and applies any
// pending migrations.
func NewSQLStore(dsn string, ttl time.Duration, now Clock) (*SQLStore, error) {
	if now == nil {
		now = time.Now
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, ttl: ttl, now: now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Put replaces the slot row.
func (s *SQLStore) Put(ctx context.Context, rec model.RelayRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	items := rec.Notifications
	if items == nil {
		items = []model.NotificationBundle{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling notifications: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO relay_slot (
			slot, workspace_id, producer, credential, notifications, created_at
		) VALUES (1, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.WorkspaceID, rec.Producer, rec.Credential,
		string(payload), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("writing relay slot: %w", err)
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context) (*slotRow, error) {
	var row slotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT workspace_id, producer, credential, notifications, created_at
		FROM relay_slot WHERE slot = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading relay slot: %w", err)
	}
	return &row, nil
}

// Get returns the record if it has not expired.
func (s *SQLStore) Get(ctx context.Context) (model.RelayRecord, error) {
	row, err := s.load(ctx)
	if err != nil {
		return model.RelayRecord{}, err
	}
	if row == nil {
		return model.RelayRecord{}, ErrNotFound
	}

	createdAt := time.Unix(0, row.CreatedAt)
	if expired(createdAt, s.now(), s.ttl) {
		return model.RelayRecord{}, ErrNotFound
	}

	rec := model.RelayRecord{
		WorkspaceID: row.WorkspaceID,
		Producer:    row.Producer,
		Credential:  row.Credential,
		CreatedAt:   createdAt,
	}
	if err := json.Unmarshal([]byte(row.Notifications), &rec.Notifications); err != nil {
		return model.RelayRecord{}, fmt.Errorf("unmarshaling notifications: %w", err)
	}
	return rec, nil
}

// Delete empties the slot.
func (s *SQLStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM relay_slot"); err != nil {
		return fmt.Errorf("deleting relay slot: %w", err)
	}
	return nil
}

// Age implements Store.
func (s *SQLStore) Age(ctx context.Context) (time.Duration, bool, error) {
	row, err := s.load(ctx)
	if err != nil || row == nil {
		return 0, false, err
	}
	return s.now().Sub(time.Unix(0, row.CreatedAt)), true, nil
}
