package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillman/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261012090001CreateInstalls records which source package each installed directory came from.
func Migration20261012090001CreateInstalls() db.Migration {
	return db.Migration{
		Version:     20261012090001,
		Description: "Create installs table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS installs (
					destination TEXT NOT NULL,
					name TEXT NOT NULL,
					source_root TEXT NOT NULL,
					layer TEXT NOT NULL,
					mode TEXT NOT NULL,
					installed_at DATETIME NOT NULL,
					PRIMARY KEY (destination, name)
				)
			`)
			return errors.Wrap(err, "failed to create installs table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS installs")
			return errors.Wrap(err, "failed to drop installs table")
		},
	}
}
