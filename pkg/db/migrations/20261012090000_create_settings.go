package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillman/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261012090000CreateSettings creates the key/value settings table.
func Migration20261012090000CreateSettings() db.Migration {
	return db.Migration{
		Version:     20261012090000,
		Description: "Create settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create settings table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS settings")
			return errors.Wrap(err, "failed to drop settings table")
		},
	}
}
