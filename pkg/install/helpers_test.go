package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, description string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "references"), 0o755))
	content := fmt.Sprintf("---\nname: %s\ndescription: %s\n---\n\n# %s\n", name, description, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "references", "guide.md"), []byte("guide for "+name), 0o644))
}

type fixture struct {
	project  string
	personal string
	dest     Destination
}

// newFixture lays out two layers:
//
//	project/brainstorming   name: brainstorming
//	project/pdf             name: pdf
//	personal/brainstorming  name: brainstorming (collides with project)
//	personal/notes-dir      name: notes
func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		project:  filepath.Join(root, "project"),
		personal: filepath.Join(root, "personal"),
		dest:     Destination{ID: DestinationProjectTool, Dir: filepath.Join(root, "dest")},
	}
	writeSkill(t, filepath.Join(f.project, "brainstorming"), "brainstorming", "project flavour")
	writeSkill(t, filepath.Join(f.project, "pdf"), "pdf", "Work with PDFs")
	writeSkill(t, filepath.Join(f.personal, "brainstorming"), "brainstorming", "personal flavour")
	writeSkill(t, filepath.Join(f.personal, "notes-dir"), "notes", "Take notes")
	return f
}

func (f fixture) layers() []skills.LayerRoot {
	return []skills.LayerRoot{
		{Layer: skills.LayerProject, Dir: f.project},
		{Layer: skills.LayerPersonal, Dir: f.personal},
	}
}

func (f fixture) discover(t *testing.T) []*skills.Package {
	t.Helper()
	scanner, err := skills.NewScanner()
	require.NoError(t, err)
	return scanner.DiscoverAll(context.Background(), f.layers())
}

func (f fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(f.discover(t), opts...)
	require.NoError(t, err)
	return e
}

func (f fixture) chosen(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := f.engine(t, opts...)
	require.NoError(t, e.ChooseDestination(context.Background(), f.dest))
	return e
}

func entryKeys(entries []Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// snapshot maps every path under dir to its contents ("<dir>" for directories)
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if info.IsDir() {
			out[rel] = "<dir>"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	if os.IsNotExist(err) {
		return out
	}
	require.NoError(t, err)
	return out
}

type fakeRecorder struct {
	ops        []Operation
	provenance map[string]string
}

func (r *fakeRecorder) Provenance(_ context.Context, _ Destination, dir string) (string, error) {
	return r.provenance[dir], nil
}

func (r *fakeRecorder) Record(_ context.Context, op Operation) error {
	r.ops = append(r.ops, op)
	return nil
}
