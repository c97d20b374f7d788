// Package migrations holds the schema of skillman's state database.
// Versions are timestamps (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/skillman/pkg/db"
)

// All returns every migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261012090000CreateSettings(),
		Migration20261012090001CreateInstalls(),
		Migration20261012090002CreateApplyHistory(),
	}
}
