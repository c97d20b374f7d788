// Package install reconciles a destination directory with a selection of
// discovered skill packages.
package install

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/jingkaihe/skillman/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state
	ErrInvalidState = errors.New("invalid engine state")
	// ErrDestinationUnwritable is returned once per apply when the destination root cannot be written
	ErrDestinationUnwritable = errors.New("destination is not writable")
	// ErrUnknownEntry is returned for keys that do not name an entry
	ErrUnknownEntry = errors.New("unknown skill entry")
)

// State of the engine's state machine
type State int

// Engine states
const (
	StateIdle State = iota
	StateDestinationChosen
	StateSelectionEditing
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDestinationChosen:
		return "destination-chosen"
	case StateSelectionEditing:
		return "selection-editing"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Entry is one selectable row. Key is the package name when it is unique
// among discovered packages, otherwise "<layer>:<name>".
type Entry struct {
	Key     string          `json:"key" yaml:"key"`
	Package *skills.Package `json:"package" yaml:"package"`
	// Qualified is set when Key carries the layer because the name collides
	Qualified bool `json:"qualified" yaml:"qualified"`
	// Orphan entries are installed at the destination but were not discovered
	Orphan bool `json:"orphan,omitempty" yaml:"orphan,omitempty"`
}

// Name returns the package name
func (e Entry) Name() string {
	return e.Package.Name()
}

// Status describes an entry relative to the chosen destination
type Status int

// Entry statuses
const (
	StatusAvailable Status = iota
	StatusInstalled
	StatusPendingInstall
	StatusPendingRemove
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusPendingInstall:
		return "to-install"
	case StatusPendingRemove:
		return "to-remove"
	default:
		return "available"
	}
}

// SelectionState is a snapshot of what is installed and what is selected, by entry key.
type SelectionState struct {
	Destination Destination
	Discovered  []Entry
	Installed   map[string]bool
	Pending     map[string]bool
}

// Plan is the difference between the pending selection and the destination
type Plan struct {
	ToInstall []string `json:"to_install" yaml:"to_install"`
	ToRemove  []string `json:"to_remove" yaml:"to_remove"`
}

// Empty reports whether applying the plan would change nothing
func (p Plan) Empty() bool {
	return len(p.ToInstall) == 0 && len(p.ToRemove) == 0
}

// Option configures an Engine
type Option func(*Engine)

// WithMaterializer sets how packages are placed at the destination (default: copy)
func WithMaterializer(m Materializer) Option {
	return func(e *Engine) { e.materializer = m }
}

// WithRecorder attaches a store for provenance and apply history
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithScanner sets the scanner used to read destinations
func WithScanner(s *skills.Scanner) Option {
	return func(e *Engine) { e.scanner = s }
}

// Engine tracks the selection for one destination at a time. It is not safe
// for concurrent use.
type Engine struct {
	base         []Entry
	entries      []Entry
	byKey        map[string]int
	state        State
	dest         Destination
	installed    map[string]string // key -> installed path
	origins      map[string]string // installed path -> source root, this session
	pending      map[string]bool
	materializer Materializer
	recorder     Recorder
	scanner      *skills.Scanner
}

// NewEngine builds the entry list from discovered packages, which must be in
// precedence order. Packages sharing a root are listed once.
func NewEngine(discovered []*skills.Package, opts ...Option) (*Engine, error) {
	e := &Engine{
		base:      buildEntries(discovered),
		installed: map[string]string{},
		origins:   map[string]string{},
		pending:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.materializer == nil {
		m, err := NewCopyMaterializer()
		if err != nil {
			return nil, err
		}
		e.materializer = m
	}
	if e.scanner == nil {
		s, err := skills.NewScanner()
		if err != nil {
			return nil, err
		}
		e.scanner = s
	}
	e.setEntries(e.base)
	return e, nil
}

func buildEntries(discovered []*skills.Package) []Entry {
	seen := map[string]bool{}
	counts := map[string]int{}
	var pkgs []*skills.Package
	for _, pkg := range discovered {
		if seen[pkg.Root] {
			continue
		}
		seen[pkg.Root] = true
		pkgs = append(pkgs, pkg)
		counts[pkg.Name()]++
	}

	used := map[string]bool{}
	entries := make([]Entry, 0, len(pkgs))
	for _, pkg := range pkgs {
		entry := Entry{Key: pkg.Name(), Package: pkg}
		if counts[pkg.Name()] > 1 {
			entry.Qualified = true
			entry.Key = pkg.Layer.String() + ":" + pkg.Name()
		}
		entry.Key = uniqueKey(entry.Key, used)
		used[entry.Key] = true
		entries = append(entries, entry)
	}
	return entries
}

// uniqueKey suffixes key with #2, #3... for packages sharing a layer and a name
func uniqueKey(key string, used map[string]bool) string {
	if !used[key] {
		return key
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s#%d", key, n)
		if !used[candidate] {
			return candidate
		}
	}
}

func (e *Engine) setEntries(entries []Entry) {
	e.entries = entries
	e.byKey = make(map[string]int, len(entries))
	for i, entry := range entries {
		e.byKey[entry.Key] = i
	}
}

// State returns the current state
func (e *Engine) State() State { return e.state }

// Destination returns the chosen destination
func (e *Engine) Destination() Destination { return e.dest }

// Entries returns the selectable entries, including orphans of the chosen destination
func (e *Engine) Entries() []Entry {
	return append([]Entry(nil), e.entries...)
}

// Entry looks up an entry by key
func (e *Engine) Entry(key string) (Entry, bool) {
	i, ok := e.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return e.entries[i], true
}

// Selection returns a copy of the current selection state
func (e *Engine) Selection() SelectionState {
	s := SelectionState{
		Destination: e.dest,
		Discovered:  e.Entries(),
		Installed:   make(map[string]bool, len(e.installed)),
		Pending:     make(map[string]bool, len(e.pending)),
	}
	for key := range e.installed {
		s.Installed[key] = true
	}
	for key := range e.pending {
		s.Pending[key] = true
	}
	return s
}

// Status reports where key stands relative to the destination
func (e *Engine) Status(key string) Status {
	_, installed := e.installed[key]
	pending := e.pending[key]
	switch {
	case installed && pending:
		return StatusInstalled
	case installed:
		return StatusPendingRemove
	case pending:
		return StatusPendingInstall
	default:
		return StatusAvailable
	}
}

// InstalledPath returns where key is installed at the destination
func (e *Engine) InstalledPath(key string) (string, bool) {
	path, ok := e.installed[key]
	return path, ok
}

// ChooseDestination scans dest and seeds the selection with what is installed
// there. It may be called again to switch destinations; pending changes are dropped.
func (e *Engine) ChooseDestination(ctx context.Context, dest Destination) error {
	if e.state == StateApplying {
		return errors.Wrapf(ErrInvalidState, "cannot choose a destination while %s", e.state)
	}

	e.dest = dest
	e.setEntries(e.base)
	e.refresh(ctx)
	e.resetPending()
	e.state = StateDestinationChosen

	logger.G(ctx).WithField("destination", dest.String()).
		WithField("installed", len(e.installed)).
		Debug("destination chosen")
	return nil
}

// refresh re-reads the destination and maps each installed directory to an
// entry. A destination that is missing or unreadable has nothing installed;
// ensureWritable reports the problem when something is applied.
func (e *Engine) refresh(ctx context.Context) {
	e.installed = map[string]string{}

	result := e.scanner.Scan(e.dest.Dir, 0)
	if result.Err != nil {
		logger.G(ctx).WithError(result.Err).WithField("destination", e.dest.String()).Debug("destination not readable, treating it as empty")
		e.setEntries(e.base)
		return
	}

	entries := append([]Entry(nil), e.base...)
	used := map[string]bool{}
	for _, entry := range entries {
		used[entry.Key] = true
	}

	for _, pkg := range result.Packages {
		key, ok := e.owner(ctx, pkg)
		if _, taken := e.installed[key]; ok && taken {
			// a second copy of the same skill under another directory name
			ok = false
		}
		if !ok {
			orphan := Entry{Key: uniqueKey(pkg.Name(), used), Package: pkg, Orphan: true}
			used[orphan.Key] = true
			entries = append(entries, orphan)
			key = orphan.Key
		}
		e.installed[key] = pkg.Root
	}
	e.setEntries(entries)
}

// owner picks the entry an installed package belongs to. Sources are tried
// in order: symlink target, installs made by this engine, recorded
// provenance, identical SKILL.md contents, then the first same-named entry.
func (e *Engine) owner(ctx context.Context, installed *skills.Package) (string, bool) {
	var candidates []Entry
	for _, entry := range e.base {
		if entry.Name() == installed.Name() {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) == 1 {
		return candidates[0].Key, true
	}

	matchRoot := func(root string) (string, bool) {
		for _, c := range candidates {
			if root != "" && sameDir(c.Package.Root, root) {
				return c.Key, true
			}
		}
		return "", false
	}

	if info, err := os.Lstat(installed.Root); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if target, err := filepath.EvalSymlinks(installed.Root); err == nil {
			if key, ok := matchRoot(target); ok {
				return key, true
			}
		}
	}

	if key, ok := matchRoot(e.origins[installed.Root]); ok {
		return key, true
	}

	if e.recorder != nil {
		source, err := e.recorder.Provenance(ctx, e.dest, filepath.Base(installed.Root))
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to read install provenance")
		}
		if key, ok := matchRoot(source); ok {
			return key, true
		}
	}

	if contents, err := os.ReadFile(installed.DescriptorPath()); err == nil {
		for _, c := range candidates {
			if other, err := os.ReadFile(c.Package.DescriptorPath()); err == nil && bytes.Equal(contents, other) {
				return c.Key, true
			}
		}
	}

	return candidates[0].Key, true
}

func sameDir(a, b string) bool {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = filepath.Clean(a)
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = filepath.Clean(b)
	}
	return ra == rb
}

func (e *Engine) resetPending() {
	e.pending = make(map[string]bool, len(e.installed))
	for key := range e.installed {
		e.pending[key] = true
	}
}

func (e *Engine) editable() error {
	if e.state != StateDestinationChosen && e.state != StateSelectionEditing {
		return errors.Wrapf(ErrInvalidState, "no destination chosen (state %s)", e.state)
	}
	return nil
}

// Toggle flips key in the pending selection
func (e *Engine) Toggle(key string) error {
	return e.Select(key, !e.pending[key])
}

// Select adds key to or drops it from the pending selection. Entries that
// install into the same directory exclude each other, so selecting one
// deselects its siblings.
func (e *Engine) Select(key string, selected bool) error {
	if err := e.editable(); err != nil {
		return err
	}
	entry, ok := e.Entry(key)
	if !ok {
		return errors.Wrapf(ErrUnknownEntry, "%q", key)
	}

	if selected {
		if entry.Orphan {
			if _, installed := e.installed[key]; !installed {
				return errors.Errorf("%s has no source to install from", key)
			}
		}
		dir := e.targetDir(entry)
		for _, other := range e.entries {
			if other.Key != key && e.targetDir(other) == dir {
				delete(e.pending, other.Key)
			}
		}
		e.pending[key] = true
	} else {
		delete(e.pending, key)
	}

	e.state = StateSelectionEditing
	return nil
}

// SetPending replaces the pending selection with exactly keys
func (e *Engine) SetPending(keys []string) error {
	if err := e.editable(); err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := e.byKey[key]; !ok {
			return errors.Wrapf(ErrUnknownEntry, "%q", key)
		}
	}
	e.pending = map[string]bool{}
	for _, key := range keys {
		if err := e.Select(key, true); err != nil {
			return err
		}
	}
	e.state = StateSelectionEditing
	return nil
}

// Clear drops pending changes
func (e *Engine) Clear() error {
	if err := e.editable(); err != nil {
		return err
	}
	e.resetPending()
	e.state = StateDestinationChosen
	return nil
}

// Plan computes what Apply would do. Keys are sorted.
func (e *Engine) Plan() Plan {
	var plan Plan
	for key := range e.pending {
		if _, ok := e.installed[key]; !ok {
			plan.ToInstall = append(plan.ToInstall, key)
		}
	}
	for key := range e.installed {
		if !e.pending[key] {
			plan.ToRemove = append(plan.ToRemove, key)
		}
	}
	sort.Strings(plan.ToInstall)
	sort.Strings(plan.ToRemove)
	return plan
}

// targetDir is where entry lives at the destination: its current install
// path, or the destination joined with its install directory name.
func (e *Engine) targetDir(entry Entry) string {
	if path, ok := e.installed[entry.Key]; ok {
		return path
	}
	return filepath.Join(e.dest.Dir, InstallDirName(entry.Package))
}

// InstallDirName is the directory name a package is installed under: its
// declared name when that is a single path element, else its directory name.
func InstallDirName(pkg *skills.Package) string {
	name := pkg.Name()
	if name == "" || name == "." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return pkg.DirName()
	}
	return name
}

// Apply removes deselected entries and installs newly selected ones. Each
// operation is attempted independently; failures are collected in the report
// and nothing is rolled back. The destination is re-read afterwards.
func (e *Engine) Apply(ctx context.Context) (*Report, error) {
	if err := e.editable(); err != nil {
		return nil, err
	}
	plan := e.Plan()
	report := newReport(e.dest, e.materializer.Mode())

	ctx, span := telemetry.Tracer("skillman.install").Start(ctx, "install.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("install.run_id", report.RunID),
		attribute.String("install.destination", e.dest.ID.String()),
		attribute.Int("install.to_install", len(plan.ToInstall)),
		attribute.Int("install.to_remove", len(plan.ToRemove)),
	)

	if plan.Empty() {
		e.state = StateDestinationChosen
		return report, nil
	}

	if err := ensureWritable(e.dest.Dir); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.state = StateApplying
	defer func() { e.state = StateDestinationChosen }()

	log := logger.G(ctx).WithField("run_id", report.RunID).WithField("destination", e.dest.ID.String())

	// entries whose source already sits at their install path are installed
	// in place, and the sibling holding that path must not be removed
	inPlace := map[string]string{}
	for _, key := range plan.ToInstall {
		entry, _ := e.Entry(key)
		path := filepath.Join(e.dest.Dir, InstallDirName(entry.Package))
		if overlaps(entry.Package.Root, path) {
			inPlace[key] = path
		}
	}
	heldBySource := func(path string) bool {
		for _, target := range inPlace {
			if sameDir(target, path) {
				return true
			}
		}
		return false
	}

	// removals first so an entry can take over a directory its sibling held
	for _, key := range plan.ToRemove {
		entry, _ := e.Entry(key)
		path := e.installed[key]
		if heldBySource(path) {
			log.WithField("skill", key).WithField("path", path).Debug("path is a package source, not removing it")
			continue
		}
		err := e.materializer.Remove(path)
		report.add(entry, ActionRemove, path, err)
		if err == nil {
			delete(e.origins, path)
		}
		e.record(ctx, report, entry, ActionRemove, path, err)
		if err != nil {
			log.WithError(err).WithField("skill", key).Warn("failed to remove skill")
			continue
		}
		log.WithField("skill", key).Info("removed skill")
	}

	for _, key := range plan.ToInstall {
		entry, _ := e.Entry(key)
		path := filepath.Join(e.dest.Dir, InstallDirName(entry.Package))
		var err error
		if _, ok := inPlace[key]; ok {
			log.WithField("skill", key).Debug("source is already at the destination")
		} else {
			err = e.materializer.Materialize(entry.Package.Root, path)
		}
		report.add(entry, ActionInstall, path, err)
		if err == nil {
			e.origins[path] = entry.Package.Root
		}
		e.record(ctx, report, entry, ActionInstall, path, err)
		if err != nil {
			log.WithError(err).WithField("skill", key).Warn("failed to install skill")
			continue
		}
		log.WithField("skill", key).WithField("mode", string(e.materializer.Mode())).Info("installed skill")
	}

	e.refresh(ctx)
	e.resetPending()

	if err := report.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial failure")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return report, nil
}

// Reinstall materializes every installed entry again from its source,
// picking up changes made since it was installed. Orphans are skipped.
// The pending selection is left untouched.
func (e *Engine) Reinstall(ctx context.Context) (*Report, error) {
	if err := e.editable(); err != nil {
		return nil, err
	}
	report := newReport(e.dest, e.materializer.Mode())
	if len(e.installed) == 0 {
		return report, nil
	}
	if err := ensureWritable(e.dest.Dir); err != nil {
		return nil, err
	}

	previous := e.state
	e.state = StateApplying
	defer func() { e.state = previous }()

	keys := make([]string, 0, len(e.installed))
	for key := range e.installed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	telemetry.WithSpanFunc(ctx, "install.reinstall", func(ctx context.Context) {
		log := logger.G(ctx).WithField("run_id", report.RunID)
		for _, key := range keys {
			entry, _ := e.Entry(key)
			if entry.Orphan {
				log.WithField("skill", key).Debug("skipping skill without a source")
				continue
			}
			path := e.installed[key]
			if overlaps(entry.Package.Root, path) {
				log.WithField("skill", key).Debug("installed copy is the source itself")
				continue
			}
			err := e.materializer.Materialize(entry.Package.Root, path)
			report.add(entry, ActionUpdate, path, err)
			if err == nil {
				e.origins[path] = entry.Package.Root
			}
			e.record(ctx, report, entry, ActionUpdate, path, err)
			if err != nil {
				log.WithError(err).WithField("skill", key).Warn("failed to update skill")
			}
		}
		e.refresh(ctx)
	}, attribute.String("install.run_id", report.RunID))

	// keep pending edits for entries that are still around
	for key := range e.pending {
		if _, ok := e.byKey[key]; !ok {
			delete(e.pending, key)
		}
	}
	return report, nil
}

func (e *Engine) record(ctx context.Context, report *Report, entry Entry, action Action, path string, opErr error) {
	if e.recorder == nil {
		return
	}
	op := Operation{
		RunID:       report.RunID,
		Destination: e.dest,
		Key:         entry.Key,
		Name:        entry.Name(),
		Source:      entry.Package.Root,
		Layer:       entry.Package.Layer.String(),
		Mode:        e.materializer.Mode(),
		Action:      action,
		Err:         opErr,
		InstallDir:  filepath.Base(path),
		At:          time.Now().UTC(),
	}
	if err := e.recorder.Record(ctx, op); err != nil {
		logger.G(ctx).WithError(err).WithField("skill", entry.Key).Warn("failed to record operation")
	}
}

// ensureWritable creates dir if needed and checks a file can be created in it
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(ErrDestinationUnwritable, "%s: %v", dir, err)
	}
	f, err := os.CreateTemp(dir, ".skillman-write-check-*")
	if err != nil {
		return errors.Wrapf(ErrDestinationUnwritable, "%s: %v", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// NewRunID returns a fresh identifier for an apply run
func NewRunID() string {
	return uuid.NewString()
}
