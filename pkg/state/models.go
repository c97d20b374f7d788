package state

import (
	"time"

	"github.com/jingkaihe/skillman/pkg/install"
)

// InstallRecord is where an installed directory was copied or linked from
type InstallRecord struct {
	Destination string    `db:"destination" json:"destination" yaml:"destination"`
	Name        string    `db:"name" json:"name" yaml:"name"`
	SourceRoot  string    `db:"source_root" json:"source_root" yaml:"source_root"`
	Layer       string    `db:"layer" json:"layer" yaml:"layer"`
	Mode        string    `db:"mode" json:"mode" yaml:"mode"`
	InstalledAt time.Time `db:"installed_at" json:"installed_at" yaml:"installed_at"`
}

// HistoryEntry is one recorded install, remove or update
type HistoryEntry struct {
	ID          int64     `db:"id" json:"id" yaml:"id"`
	RunID       string    `db:"run_id" json:"run_id" yaml:"run_id"`
	Destination string    `db:"destination" json:"destination" yaml:"destination"`
	Key         string    `db:"key" json:"key" yaml:"key"`
	Action      string    `db:"action" json:"action" yaml:"action"`
	Error       *string   `db:"error" json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" yaml:"created_at"`
}

// Failed reports whether the operation failed
func (h HistoryEntry) Failed() bool {
	return h.Error != nil && *h.Error != ""
}

func historyFromOperation(op install.Operation) HistoryEntry {
	entry := HistoryEntry{
		RunID:       op.RunID,
		Destination: op.Destination.Dir,
		Key:         op.Key,
		Action:      string(op.Action),
		CreatedAt:   op.At,
	}
	if op.Err != nil {
		msg := op.Err.Error()
		entry.Error = &msg
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}
