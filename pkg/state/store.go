// Package state persists skillman's local state in SQLite: the last chosen
// destination, where installed skills came from and the history of applies.
package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/jingkaihe/skillman/pkg/db"
	"github.com/jingkaihe/skillman/pkg/db/migrations"
	"github.com/jingkaihe/skillman/pkg/install"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const lastDestinationKey = "last_destination"

// Store is the SQLite backed state store. It implements install.Recorder.
type Store struct {
	db *sqlx.DB
}

var _ install.Recorder = (*Store)(nil)

// Open opens the store at dbPath, creating and migrating it as needed
func Open(ctx context.Context, dbPath string) (*Store, error) {
	sqlDB, err := db.OpenMigrated(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open state store")
	}
	return &Store{db: sqlDB}, nil
}

// OpenDefault opens the store at the default path
func OpenDefault(ctx context.Context) (*Store, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return Open(ctx, path)
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// LastDestination returns the destination chosen most recently, if any
func (s *Store) LastDestination(ctx context.Context) (install.DestinationID, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", lastDestinationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read last destination")
	}

	id, err := install.ParseDestinationID(value)
	if err != nil {
		// written by a different version; treat as unset
		return 0, false, nil
	}
	return id, true, nil
}

// SetLastDestination remembers id as the preselected destination
func (s *Store) SetLastDestination(ctx context.Context, id install.DestinationID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, lastDestinationKey, id.String(), time.Now().UTC())
	return errors.Wrap(err, "failed to save last destination")
}

// Provenance implements install.Recorder
func (s *Store) Provenance(ctx context.Context, dest install.Destination, dir string) (string, error) {
	var source string
	err := s.db.GetContext(ctx, &source,
		"SELECT source_root FROM installs WHERE destination = ? AND name = ?", dest.Dir, dir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return source, errors.Wrap(err, "failed to read install provenance")
}

// Record implements install.Recorder. Every operation lands in the history;
// successful installs and updates upsert provenance, successful removals drop it.
func (s *Store) Record(ctx context.Context, op install.Operation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO apply_history (run_id, destination, key, action, error, created_at)
		VALUES (:run_id, :destination, :key, :action, :error, :created_at)
	`, historyFromOperation(op))
	if err != nil {
		return errors.Wrap(err, "failed to record operation")
	}

	if op.Err == nil {
		switch op.Action {
		case install.ActionInstall, install.ActionUpdate:
			_, err = tx.NamedExecContext(ctx, `
				INSERT INTO installs (destination, name, source_root, layer, mode, installed_at)
				VALUES (:destination, :name, :source_root, :layer, :mode, :installed_at)
				ON CONFLICT(destination, name) DO UPDATE SET
					source_root = excluded.source_root,
					layer = excluded.layer,
					mode = excluded.mode,
					installed_at = excluded.installed_at
			`, InstallRecord{
				Destination: op.Destination.Dir,
				Name:        op.InstallDir,
				SourceRoot:  op.Source,
				Layer:       op.Layer,
				Mode:        string(op.Mode),
				InstalledAt: op.At,
			})
		case install.ActionRemove:
			_, err = tx.ExecContext(ctx,
				"DELETE FROM installs WHERE destination = ? AND name = ?", op.Destination.Dir, op.InstallDir)
		}
		if err != nil {
			return errors.Wrap(err, "failed to update install provenance")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit operation")
}

// Installs lists recorded provenance for a destination directory
func (s *Store) Installs(ctx context.Context, destDir string) ([]InstallRecord, error) {
	var records []InstallRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT destination, name, source_root, layer, mode, installed_at
		FROM installs WHERE destination = ? ORDER BY name
	`, destDir)
	return records, errors.Wrap(err, "failed to list installs")
}

// History returns the most recent operations, newest first. A limit of zero
// or less returns everything.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, run_id, destination, key, action, error, created_at
		FROM apply_history ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var entries []HistoryEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to read apply history")
	}
	return entries, nil
}
