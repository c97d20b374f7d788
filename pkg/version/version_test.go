package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleInfo() Info {
	return Info{
		Version:   "0.3.0",
		GitCommit: "5f2c9e1",
		BuildTime: "2026-10-01T12:00:00Z",
		GoVersion: "go1.25.1",
	}
}

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Contains(t, info.GoVersion, "go")
}

func TestInfoString(t *testing.T) {
	assert.Equal(t,
		"Version: 0.3.0, GitCommit: 5f2c9e1, BuildTime: 2026-10-01T12:00:00Z, GoVersion: go1.25.1",
		sampleInfo().String())
}

func TestInfoJSON(t *testing.T) {
	out, err := sampleInfo().JSON()
	require.NoError(t, err)

	var parsed Info
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, sampleInfo(), parsed)
	assert.Contains(t, out, `"gitCommit": "5f2c9e1"`)
}

func TestInfoYAML(t *testing.T) {
	out, err := yaml.Marshal(sampleInfo())
	require.NoError(t, err)
	assert.Contains(t, string(out), "buildTime: \"2026-10-01T12:00:00Z\"")

	var parsed Info
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Equal(t, sampleInfo(), parsed)
}
