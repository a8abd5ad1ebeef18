package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommands(t *testing.T) {
	mem := []string{"-db", ":memory:", "-listen", "off"}

	assert.Equal(t, 0, run(append(mem, "once")))
	assert.Equal(t, 0, run(append(mem, "prune", "-days", "5", "-dry-run")))
	assert.Equal(t, 0, run(append(mem, "prune")))
	assert.Equal(t, 2, run(append(mem, "prune", "-days", "-1")))
	assert.Equal(t, 2, run(append(mem, "frobnicate")))
	assert.Equal(t, 1, run(append(mem, "-log-level", "loud", "once")))
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestRunWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "podwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ""
store:
  path: `+filepath.Join(dir, "podwatch.db")+`
aggregation:
  vantage_points: []
`), 0o600))

	assert.Equal(t, 0, run([]string{"-config", path, "once"}))
	assert.FileExists(t, filepath.Join(dir, "podwatch.db"))

	assert.Equal(t, 1, run([]string{"-config", filepath.Join(dir, "missing.yaml"), "once"}))
}
