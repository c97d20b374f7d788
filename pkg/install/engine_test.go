package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineDisambiguatesCollidingNames(t *testing.T) {
	e := newFixture(t).engine(t)

	assert.Equal(t,
		[]string{"project:brainstorming", "pdf", "personal:brainstorming", "notes"},
		entryKeys(e.Entries()))

	entry, ok := e.Entry("personal:brainstorming")
	require.True(t, ok)
	assert.True(t, entry.Qualified)
	assert.Equal(t, skills.LayerPersonal, entry.Package.Layer)

	pdf, ok := e.Entry("pdf")
	require.True(t, ok)
	assert.False(t, pdf.Qualified)
}

func TestNewEngineDeduplicatesRootsAndSuffixesSameLayerDuplicates(t *testing.T) {
	root := t.TempDir()
	a := &skills.Package{Root: filepath.Join(root, "a"), Layer: skills.LayerProject}
	b := &skills.Package{Root: filepath.Join(root, "group", "a"), Layer: skills.LayerProject}

	e, err := NewEngine([]*skills.Package{a, a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"project:a", "project:a#2"}, entryKeys(e.Entries()))
}

func TestOperationsRequireDestination(t *testing.T) {
	e := newFixture(t).engine(t)
	assert.Equal(t, StateIdle, e.State())

	assert.ErrorIs(t, e.Toggle("pdf"), ErrInvalidState)
	assert.ErrorIs(t, e.Clear(), ErrInvalidState)
	_, err := e.Apply(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.Reinstall(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestChooseDestinationMissingDirectoryIsEmpty(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)

	assert.Equal(t, StateDestinationChosen, e.State())
	assert.Empty(t, e.Selection().Installed)
	assert.True(t, e.Plan().Empty())
	assert.NoDirExists(t, f.dest.Dir)
}

func TestToggleAndPlan(t *testing.T) {
	e := newFixture(t).chosen(t)

	require.NoError(t, e.Toggle("pdf"))
	assert.Equal(t, StateSelectionEditing, e.State())
	assert.Equal(t, StatusPendingInstall, e.Status("pdf"))
	assert.Equal(t, Plan{ToInstall: []string{"pdf"}}, e.Plan())

	require.NoError(t, e.Toggle("pdf"))
	assert.Equal(t, StatusAvailable, e.Status("pdf"))
	assert.True(t, e.Plan().Empty())

	assert.ErrorIs(t, e.Toggle("nope"), ErrUnknownEntry)
}

func TestApplyInstallsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)
	ctx := context.Background()

	require.NoError(t, e.Toggle("pdf"))
	require.NoError(t, e.Toggle("notes"))
	report, err := e.Apply(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.NotEmpty(t, report.RunID)
	assert.ElementsMatch(t, []string{"pdf", "notes"}, report.Succeeded(ActionInstall))

	assert.Equal(t, StateDestinationChosen, e.State())
	assert.FileExists(t, filepath.Join(f.dest.Dir, "pdf", "SKILL.md"))
	assert.FileExists(t, filepath.Join(f.dest.Dir, "pdf", "references", "guide.md"))
	// installed under its declared name, not its source directory name
	assert.FileExists(t, filepath.Join(f.dest.Dir, "notes", "SKILL.md"))
	assert.Equal(t, StatusInstalled, e.Status("pdf"))
	assert.Equal(t, StatusInstalled, e.Status("notes"))

	before := snapshot(t, f.dest.Dir)
	again, err := e.Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Outcomes)
	assert.NoError(t, again.Err())
	assert.Equal(t, before, snapshot(t, f.dest.Dir))
}

func TestApplyRoundTripLeavesNoFiles(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)
	ctx := context.Background()

	require.NoError(t, e.Toggle("pdf"))
	_, err := e.Apply(ctx)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(f.dest.Dir, "pdf"))

	require.NoError(t, e.Toggle("pdf"))
	assert.Equal(t, StatusPendingRemove, e.Status("pdf"))
	report, err := e.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf"}, report.Succeeded(ActionRemove))

	assert.NoDirExists(t, filepath.Join(f.dest.Dir, "pdf"))
	assert.Equal(t, map[string]string{".": "<dir>"}, snapshot(t, f.dest.Dir))
}

func TestCollidingEntriesAreMutuallyExclusive(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)
	ctx := context.Background()

	require.NoError(t, e.Select("project:brainstorming", true))
	require.NoError(t, e.Select("personal:brainstorming", true))
	assert.Equal(t, Plan{ToInstall: []string{"personal:brainstorming"}}, e.Plan())

	_, err := e.Apply(ctx)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.dest.Dir, "brainstorming", "SKILL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "personal flavour")
	assert.Equal(t, StatusInstalled, e.Status("personal:brainstorming"))
	assert.Equal(t, StatusAvailable, e.Status("project:brainstorming"))

	// switching to the sibling removes then reinstalls the shared directory
	require.NoError(t, e.Toggle("project:brainstorming"))
	assert.Equal(t, Plan{
		ToInstall: []string{"project:brainstorming"},
		ToRemove:  []string{"personal:brainstorming"},
	}, e.Plan())
	report, err := e.Apply(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	data, err = os.ReadFile(filepath.Join(f.dest.Dir, "brainstorming", "SKILL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "project flavour")
	assert.Equal(t, StatusInstalled, e.Status("project:brainstorming"))
}

func TestOwnerDetectedFromContentsInNewSession(t *testing.T) {
	f := newFixture(t)
	first := f.chosen(t)
	require.NoError(t, first.Select("personal:brainstorming", true))
	_, err := first.Apply(context.Background())
	require.NoError(t, err)

	second := f.chosen(t)
	assert.Equal(t, StatusInstalled, second.Status("personal:brainstorming"))
	assert.Equal(t, StatusAvailable, second.Status("project:brainstorming"))
}

func TestOwnerDetectedFromRecordedProvenance(t *testing.T) {
	f := newFixture(t)
	// identical contents so only provenance can tell them apart
	writeSkill(t, filepath.Join(f.personal, "brainstorming"), "brainstorming", "project flavour")
	writeSkill(t, filepath.Join(f.dest.Dir, "brainstorming"), "brainstorming", "project flavour")

	rec := &fakeRecorder{provenance: map[string]string{
		"brainstorming": filepath.Join(f.personal, "brainstorming"),
	}}
	e := f.chosen(t, WithRecorder(rec))
	assert.Equal(t, StatusInstalled, e.Status("personal:brainstorming"))

	plain := f.chosen(t)
	assert.Equal(t, StatusInstalled, plain.Status("project:brainstorming"), "falls back to precedence order")
}

func TestApplyPartialFailure(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)

	require.NoError(t, e.Toggle("pdf"))
	require.NoError(t, e.Toggle("notes"))
	require.NoError(t, os.RemoveAll(filepath.Join(f.personal, "notes-dir")))

	report, err := e.Apply(context.Background())
	require.NoError(t, err)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "install notes")

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "notes", failed[0].Key)
	assert.Equal(t, []string{"pdf"}, report.Succeeded(ActionInstall))

	assert.FileExists(t, filepath.Join(f.dest.Dir, "pdf", "SKILL.md"))
	assert.Equal(t, StateDestinationChosen, e.State())
	assert.Equal(t, StatusAvailable, e.Status("notes"), "selection reflects the destination after apply")
}

func TestApplyUnwritableDestinationReportsOnce(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	f.dest.Dir = filepath.Join(blocker, "skills")

	rec := &fakeRecorder{}
	e := f.chosen(t, WithRecorder(rec))
	require.NoError(t, e.Toggle("pdf"))
	require.NoError(t, e.Toggle("notes"))

	report, err := e.Apply(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationUnwritable)
	assert.Nil(t, report)
	assert.Empty(t, rec.ops, "no per-package operations are attempted")
	assert.Equal(t, StateSelectionEditing, e.State())
	assert.Equal(t, []string{"notes", "pdf"}, e.Plan().ToInstall)
}

func TestClearRestoresInstalledSelection(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)
	require.NoError(t, e.Toggle("pdf"))
	_, err := e.Apply(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Toggle("pdf"))
	require.NoError(t, e.Toggle("notes"))
	require.NoError(t, e.Clear())

	assert.Equal(t, StateDestinationChosen, e.State())
	assert.True(t, e.Plan().Empty())
	assert.Equal(t, map[string]bool{"pdf": true}, e.Selection().Pending)
}

func TestSetPending(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t)
	require.NoError(t, e.Toggle("pdf"))
	_, err := e.Apply(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.SetPending([]string{"notes"}))
	assert.Equal(t, Plan{ToInstall: []string{"notes"}, ToRemove: []string{"pdf"}}, e.Plan())

	assert.ErrorIs(t, e.SetPending([]string{"notes", "missing"}), ErrUnknownEntry)
}

func TestOrphanInstallsCanBeRemoved(t *testing.T) {
	f := newFixture(t)
	writeSkill(t, filepath.Join(f.dest.Dir, "legacy"), "legacy", "installed by hand")

	e := f.chosen(t)
	entry, ok := e.Entry("legacy")
	require.True(t, ok)
	assert.True(t, entry.Orphan)
	assert.Equal(t, StatusInstalled, e.Status("legacy"))

	require.NoError(t, e.Toggle("legacy"))
	_, err := e.Apply(context.Background())
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(f.dest.Dir, "legacy"))

	_, ok = e.Entry("legacy")
	assert.False(t, ok, "orphan disappears once removed")
}

func TestLinkModeInstallsSymlinksIdempotently(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t, WithMaterializer(&LinkMaterializer{}))
	ctx := context.Background()

	require.NoError(t, e.Select("personal:brainstorming", true))
	report, err := e.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeLink, report.Mode)

	link := filepath.Join(f.dest.Dir, "brainstorming")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.personal, "brainstorming"), target)

	again, err := e.Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Outcomes)

	// a fresh engine attributes the link to its target
	fresh := f.chosen(t)
	assert.Equal(t, StatusInstalled, fresh.Status("personal:brainstorming"))
}

func TestReinstallRefreshesFromSource(t *testing.T) {
	f := newFixture(t)
	rec := &fakeRecorder{}
	e := f.chosen(t, WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, e.Toggle("pdf"))
	_, err := e.Apply(ctx)
	require.NoError(t, err)

	writeSkill(t, filepath.Join(f.project, "pdf"), "pdf", "Work with PDFs, v2")
	require.NoError(t, e.Toggle("notes"))

	report, err := e.Reinstall(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"pdf"}, report.Succeeded(ActionUpdate))

	data, err := os.ReadFile(filepath.Join(f.dest.Dir, "pdf", "SKILL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "v2")

	assert.Equal(t, StatusPendingInstall, e.Status("notes"), "pending edits survive a reinstall")
	assert.Equal(t, StateSelectionEditing, e.State())
}

func TestRecorderReceivesOperations(t *testing.T) {
	f := newFixture(t)
	rec := &fakeRecorder{}
	e := f.chosen(t, WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, e.Toggle("notes"))
	report, err := e.Apply(ctx)
	require.NoError(t, err)

	require.Len(t, rec.ops, 1)
	op := rec.ops[0]
	assert.Equal(t, report.RunID, op.RunID)
	assert.Equal(t, ActionInstall, op.Action)
	assert.Equal(t, "notes", op.Key)
	assert.Equal(t, "notes", op.InstallDir)
	assert.Equal(t, filepath.Join(f.personal, "notes-dir"), op.Source)
	assert.Equal(t, "personal", op.Layer)
	assert.Equal(t, ModeCopy, op.Mode)
	assert.NoError(t, op.Err)
}

func TestInstallDirName(t *testing.T) {
	name := func(s string) *string { return &s }
	tests := []struct {
		declared *string
		want     string
	}{
		{name("pdf"), "pdf"},
		{nil, "dir"},
		{name("../escape"), "dir"},
		{name("a/b"), "dir"},
		{name("."), "dir"},
	}
	for _, tt := range tests {
		pkg := &skills.Package{Root: "/layer/dir"}
		pkg.Descriptor.Name = tt.declared
		assert.Equal(t, tt.want, InstallDirName(pkg))
	}
}

func TestLayerRootAsDestinationKeepsSources(t *testing.T) {
	copier, err := NewCopyMaterializer()
	require.NoError(t, err)

	for _, m := range []Materializer{copier, &LinkMaterializer{}} {
		t.Run(string(m.Mode()), func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "skills")
			writeSkill(t, filepath.Join(root, "pdf"), "pdf", "Work with PDFs")

			scanner, err := skills.NewScanner()
			require.NoError(t, err)
			packages := scanner.DiscoverAll(context.Background(), []skills.LayerRoot{{Layer: skills.LayerProject, Dir: root}})
			e, err := NewEngine(packages, WithMaterializer(m))
			require.NoError(t, err)
			require.NoError(t, e.ChooseDestination(context.Background(), Destination{ID: DestinationProjectTool, Dir: root}))
			assert.Equal(t, StatusInstalled, e.Status("pdf"))

			report, err := e.Reinstall(context.Background())
			require.NoError(t, err)
			require.NoError(t, report.Err())
			assert.Empty(t, report.Outcomes)

			info, err := os.Lstat(filepath.Join(root, "pdf"))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			assert.FileExists(t, filepath.Join(root, "pdf", "SKILL.md"))
			assert.Equal(t, StatusInstalled, e.Status("pdf"))
		})
	}
}

func TestApplyInstallsInPlaceWithoutRemovingSource(t *testing.T) {
	f := newFixture(t)
	f.dest.Dir = f.project
	source := filepath.Join(f.project, "brainstorming")

	// provenance attributes the directory to the personal package
	rec := &fakeRecorder{provenance: map[string]string{
		"brainstorming": filepath.Join(f.personal, "brainstorming"),
	}}
	e := f.chosen(t, WithRecorder(rec))
	require.Equal(t, StatusInstalled, e.Status("personal:brainstorming"))

	require.NoError(t, e.Select("project:brainstorming", true))
	assert.Equal(t, Plan{ToInstall: []string{"project:brainstorming"}, ToRemove: []string{"personal:brainstorming"}}, e.Plan())

	report, err := e.Apply(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"project:brainstorming"}, report.Succeeded(ActionInstall))
	assert.Empty(t, report.Succeeded(ActionRemove))

	data, err := os.ReadFile(filepath.Join(source, "SKILL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "project flavour")
	assert.FileExists(t, filepath.Join(f.personal, "brainstorming", "SKILL.md"))
	assert.Equal(t, StatusInstalled, e.Status("project:brainstorming"))
}

func TestChooseDestinationUnreadableIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.dest.Dir = filepath.Join(t.TempDir(), "skills")
	require.NoError(t, os.WriteFile(f.dest.Dir, []byte("not a directory"), 0o644))

	e := f.chosen(t)
	assert.Equal(t, StateDestinationChosen, e.State())
	assert.Empty(t, e.Selection().Installed)

	require.NoError(t, e.Toggle("pdf"))
	_, err := e.Apply(context.Background())
	assert.ErrorIs(t, err, ErrDestinationUnwritable)
}

// clobberingMaterializer replaces the whole destination with a file on install
type clobberingMaterializer struct {
	dest string
}

func (c *clobberingMaterializer) Mode() Mode { return ModeCopy }

func (c *clobberingMaterializer) Materialize(_, _ string) error {
	if err := os.RemoveAll(c.dest); err != nil {
		return err
	}
	return os.WriteFile(c.dest, []byte("gone"), 0o644)
}

func (c *clobberingMaterializer) Remove(dst string) error { return os.RemoveAll(dst) }

func TestApplyResetsSelectionWhenDestinationVanishes(t *testing.T) {
	f := newFixture(t)
	e := f.chosen(t, WithMaterializer(&clobberingMaterializer{dest: f.dest.Dir}))

	require.NoError(t, e.Toggle("pdf"))
	require.NoError(t, e.Toggle("notes"))
	_, err := e.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDestinationChosen, e.State())
	assert.Empty(t, e.Selection().Installed)
	assert.Empty(t, e.Selection().Pending)
	assert.True(t, e.Plan().Empty())
}
