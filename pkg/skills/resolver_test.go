package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLayers struct {
	project     string
	personal    string
	superpowers string
}

func newTestLayers(t *testing.T) testLayers {
	t.Helper()
	base := t.TempDir()
	l := testLayers{
		project:     filepath.Join(base, "project"),
		personal:    filepath.Join(base, "personal"),
		superpowers: filepath.Join(base, "superpowers"),
	}
	for _, dir := range []string{l.project, l.personal, l.superpowers} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return l
}

func (l testLayers) roots() []LayerRoot {
	return []LayerRoot{
		{Layer: LayerProject, Dir: l.project},
		{Layer: LayerPersonal, Dir: l.personal},
		{Layer: LayerSuperpowers, Dir: l.superpowers},
	}
}

func newTestResolver(t *testing.T, layers []LayerRoot) *Resolver {
	t.Helper()
	r, err := NewResolver(layers)
	require.NoError(t, err)
	return r
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		raw      string
		expected Identifier
	}{
		{"brainstorming", Identifier{Name: "brainstorming"}},
		{"superpowers:brainstorming", Identifier{Name: "brainstorming", Layer: LayerSuperpowers, Forced: true}},
		{"personal:notes", Identifier{Name: "notes", Layer: LayerPersonal, Forced: true}},
		{"project:lint", Identifier{Name: "lint", Layer: LayerProject, Forced: true}},
		{"vendor:tool", Identifier{Name: "vendor:tool"}},
		{"  superpowers:tdd  ", Identifier{Name: "tdd", Layer: LayerSuperpowers, Forced: true}},
		{"Superpowers:tdd", Identifier{Name: "Superpowers:tdd"}},
		{"source:pdf", Identifier{Name: "source:pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			id := ParseIdentifier(tt.raw)
			assert.Equal(t, tt.expected, id)
		})
	}

	assert.Equal(t, "superpowers:tdd", ParseIdentifier("superpowers:tdd").String())
	assert.Equal(t, "tdd", ParseIdentifier("tdd").String())
}

func TestResolvePrecedenceFollowsLayerOrder(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "foo"), "foo", "project")
	writeSkill(t, filepath.Join(l.personal, "foo"), "foo", "personal")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, LayerProject, res.Package.Layer)
	assert.Equal(t, filepath.Join(l.project, "foo"), res.Package.Root)
	assert.Equal(t, MethodDirect, res.Method)
}

func TestResolveForcedPrefixInspectsOnlyThatLayer(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "brainstorming"), "brainstorming", "project")
	writeSkill(t, filepath.Join(l.personal, "brainstorming"), "brainstorming", "personal")
	writeSkill(t, filepath.Join(l.superpowers, "brainstorming"), "brainstorming", "Use when stuck")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "superpowers:brainstorming")
	require.NoError(t, err)
	assert.Equal(t, LayerSuperpowers, res.Package.Layer)
	assert.Equal(t, filepath.Join(l.superpowers, "brainstorming"), res.Package.Root)
	assert.Equal(t, "Use when stuck", res.Package.Description())
	assert.True(t, res.Identifier.Forced)
}

func TestResolveForcedPrefixIgnoresOtherLayersEvenWhenMissing(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "only-project"), "only-project", "project")
	writeSkill(t, filepath.Join(l.personal, "renamed"), "only-project", "declared in personal")

	_, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "superpowers:only-project")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestResolveForcedPrefixForUnconfiguredLayer(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "foo"), "foo", "project")

	layers := []LayerRoot{{Layer: LayerProject, Dir: l.project}}
	_, err := newTestResolver(t, layers).Resolve(context.Background(), "personal:foo")
	assert.True(t, IsNotFound(err))
}

func TestResolveDirectProbeBeatsNameMatchInSameLayer(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "aaa-other"), "foo", "declares foo")
	writeSkill(t, filepath.Join(l.project, "foo"), "something-else", "directory named foo")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.project, "foo"), res.Package.Root)
	assert.Equal(t, MethodDirect, res.Method)
}

func TestResolveDirectProbeInLaterLayerBeatsNameMatchInEarlierLayer(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "renamed"), "foo", "declares foo")
	writeSkill(t, filepath.Join(l.personal, "foo"), "foo", "directory named foo")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, LayerPersonal, res.Package.Layer)
	assert.Equal(t, MethodDirect, res.Method)
}

func TestResolveNameMatchFallback(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.personal, "group", "dir-name"), "declared-name", "nested and renamed")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "declared-name")
	require.NoError(t, err)
	assert.Equal(t, MethodNameMatch, res.Method)
	assert.Equal(t, filepath.Join(l.personal, "group", "dir-name"), res.Package.Root)
	assert.Equal(t, LayerPersonal, res.Package.Layer)
}

func TestResolveNameMatchTieBreaksOnTraversalOrder(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "b-second"), "dup", "second")
	writeSkill(t, filepath.Join(l.project, "a-first"), "dup", "first")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.project, "a-first"), res.Package.Root)
}

func TestResolveNameMatchIsCaseSensitive(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.project, "dir"), "MixedCase", "case test")

	_, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "mixedcase")
	assert.True(t, IsNotFound(err))
}

func TestResolvePrefixOnlyLayerSkippedWhenUnprefixed(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.superpowers, "tdd"), "tdd", "superpowers")

	layers := l.roots()
	layers[2].PrefixOnly = true
	r := newTestResolver(t, layers)

	_, err := r.Resolve(context.Background(), "tdd")
	assert.True(t, IsNotFound(err))

	res, err := r.Resolve(context.Background(), "superpowers:tdd")
	require.NoError(t, err)
	assert.Equal(t, LayerSuperpowers, res.Package.Layer)
}

func TestResolveNotFound(t *testing.T) {
	l := newTestLayers(t)

	_, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "ghost")

	_, err = newTestResolver(t, l.roots()).Resolve(context.Background(), "superpowers:")
	assert.True(t, IsNotFound(err))
}

func TestResolveMissingLayerRootsAreSkipped(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(l.superpowers, "foo"), "foo", "last layer")

	layers := []LayerRoot{
		{Layer: LayerProject, Dir: filepath.Join(l.project, "does-not-exist")},
		{Layer: LayerSuperpowers, Dir: l.superpowers},
	}
	res, err := newTestResolver(t, layers).Resolve(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, LayerSuperpowers, res.Package.Layer)
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	l := newTestLayers(t)
	writeSkill(t, filepath.Join(filepath.Dir(l.project), "outside"), "outside", "not in any layer")

	_, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "../outside")
	assert.True(t, IsNotFound(err))
}

func TestResolveDirectoryWithoutDescriptorFallsThrough(t *testing.T) {
	l := newTestLayers(t)
	require.NoError(t, os.MkdirAll(filepath.Join(l.project, "foo"), 0o755))
	writeSkill(t, filepath.Join(l.personal, "foo"), "foo", "real one")

	res, err := newTestResolver(t, l.roots()).Resolve(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, LayerPersonal, res.Package.Layer)
}
