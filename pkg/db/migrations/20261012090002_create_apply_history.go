package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillman/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261012090002CreateApplyHistory creates the per-operation apply log.
func Migration20261012090002CreateApplyHistory() db.Migration {
	return db.Migration{
		Version:     20261012090002,
		Description: "Create apply_history table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS apply_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					destination TEXT NOT NULL,
					key TEXT NOT NULL,
					action TEXT NOT NULL,
					error TEXT,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create apply_history table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_apply_history_created_at ON apply_history(created_at DESC)`); err != nil {
				return errors.Wrap(err, "failed to create apply_history index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS apply_history")
			return errors.Wrap(err, "failed to drop apply_history table")
		},
	}
}
