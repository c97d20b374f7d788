package install

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Action is what an apply did to one entry
type Action string

// Apply actions
const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionUpdate  Action = "update"
)

// Outcome is the result of one operation within an apply
type Outcome struct {
	Key    string `json:"key" yaml:"key"`
	Action Action `json:"action" yaml:"action"`
	Path   string `json:"path" yaml:"path"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarises an apply or reinstall run
type Report struct {
	RunID       string      `json:"run_id" yaml:"run_id"`
	Destination Destination `json:"destination" yaml:"destination"`
	Mode        Mode        `json:"mode" yaml:"mode"`
	Outcomes    []Outcome   `json:"outcomes" yaml:"outcomes"`

	errs *multierror.Error
}

func newReport(dest Destination, mode Mode) *Report {
	return &Report{RunID: NewRunID(), Destination: dest, Mode: mode}
}

func (r *Report) add(entry Entry, action Action, path string, err error) {
	outcome := Outcome{Key: entry.Key, Action: action, Path: path}
	if err != nil {
		outcome.Error = err.Error()
		r.errs = multierror.Append(r.errs, errors.Wrapf(err, "%s %s", action, entry.Key))
	}
	r.Outcomes = append(r.Outcomes, outcome)
}

// Succeeded returns the keys whose action succeeded
func (r *Report) Succeeded(action Action) []string {
	var keys []string
	for _, o := range r.Outcomes {
		if o.Action == action && o.Error == "" {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// Failed returns the outcomes that failed
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Error != "" {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err returns every failure as one error, or nil
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return r.errs.ErrorOrNil()
}

// Operation is one install, remove or update as handed to a Recorder
type Operation struct {
	RunID       string
	Destination Destination
	Key         string
	Name        string
	InstallDir  string
	Source      string
	Layer       string
	Mode        Mode
	Action      Action
	Err         error
	At          time.Time
}

// Recorder persists what the engine did. Recorder failures are logged and
// never fail an apply.
type Recorder interface {
	// Provenance returns the source root recorded for dir at dest, or "" when unknown
	Provenance(ctx context.Context, dest Destination, dir string) (string, error)
	Record(ctx context.Context, op Operation) error
}
