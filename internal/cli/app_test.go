package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/server"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	err := app.ExecuteWithArgs(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "envsandbox version")
}

func TestHelpListsCommands(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"run", "stubs", "snapshots", "undefined", "remote"} {
		assert.Contains(t, out, name)
	}
}

func TestRunExpression(t *testing.T) {
	envDir := t.TempDir()

	out, _, err := execute(t, "run", "--env-dir", envDir, "--code", "6 * 7")
	require.NoError(t, err)
	assert.Contains(t, out, "42\n")

	out, _, err = execute(t, "run", "--env-dir", envDir, "--code", "window.zzzCli")
	require.NoError(t, err)
	assert.Contains(t, out, "Undefined (1):")
	assert.Contains(t, out, "window.zzzCli")

	out, _, err = execute(t, "run", "--env-dir", envDir, "--code", "throw new Error('nope')")
	assert.Error(t, err)
	assert.Contains(t, out, "Error: nope")
}

func TestRunFromFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "device.js")
	require.NoError(t, os.WriteFile(script, []byte("return typeof navigator"), 0o644))

	out, _, err := execute(t, "run", "--env-dir", dir, script)
	require.NoError(t, err)
	assert.Contains(t, out, "object")

	out, _, err = execute(t, "run", "--env-dir", dir, "--no-env", script)
	require.NoError(t, err)
	assert.Contains(t, out, "undefined")

	_, _, err = execute(t, "run", "--env-dir", dir)
	assert.Error(t, err)
}

func TestRunAppliesRules(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`rules:
  - id: r1
    path: navigator.vendor
    type: property
    value: "'Cli Corp'"
    enabled: true
`), 0o644))

	out, _, err := execute(t, "run", "--env-dir", dir, "--rules", rules, "--apply-rules", "--code", "navigator.vendor")
	require.NoError(t, err)
	assert.Contains(t, out, "Cli Corp")
}

func TestStubs(t *testing.T) {
	out, _, err := execute(t, "stubs", "--env-dir", t.TempDir(), "--pattern", "bom/*")
	require.NoError(t, err)
	assert.Contains(t, out, "bom/navigator.js")
	assert.NotContains(t, out, "dom/document.js")

	_, _, err = execute(t, "stubs", "--env-dir", t.TempDir(), "--pattern", "[bad")
	assert.Error(t, err)
}

func TestSnapshotsAndUndefined(t *testing.T) {
	dir := t.TempDir()
	store := snapshot.NewStore(dir, nil)
	_, err := store.Save(snapshot.Snapshot{
		Name:           "baseline",
		LoadedEnvFiles: []string{"bom/navigator.js"},
		UndefinedLogs: []proxylog.UndefinedEntry{
			{Path: "window.open"},
			{Path: "navigator.webdriver", Fixed: true, FixedBy: proxylog.FixedManual},
		},
	})
	require.NoError(t, err)

	out, _, err := execute(t, "snapshots", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "baseline")

	out, _, err = execute(t, "undefined", "baseline", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "window.open\nnavigator.webdriver (fixed: manual)\n", out)

	out, _, err = execute(t, "undefined", "baseline", "--dir", dir, "--unfixed")
	require.NoError(t, err)
	assert.Equal(t, "window.open\n", out)

	_, _, err = execute(t, "snapshots", "delete", "baseline", "--dir", dir)
	require.NoError(t, err)
	out, _, err = execute(t, "snapshots", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots.")

	_, _, err = execute(t, "undefined", "baseline", "--dir", dir)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func startRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sandbox.EnvDir = filepath.Join(dir, "env")
	cfg.Sandbox.SnapshotDir = filepath.Join(dir, "snapshots")
	cfg.Sandbox.MockRules = filepath.Join(dir, "mock-rules.yaml")
	cfg.Sandbox.WatchPatches = false
	cfg.Sandbox.PoolSize = 0
	cfg.RateLimit.Enabled = false
	cfg.Logging.Level = "error"

	s, err := server.NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts.URL
}

func TestRemote(t *testing.T) {
	url := startRemote(t)

	out, _, err := execute(t, "remote", "--server", url, "run", "--code", "(window.zzzRemoteCli, 1 + 1)")
	require.NoError(t, err)
	assert.Contains(t, out, "2\n")
	assert.Contains(t, out, "window.zzzRemoteCli")

	out, _, err = execute(t, "remote", "--server", url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:      ready")
	assert.Contains(t, out, "Executions: ")

	out, _, err = execute(t, "remote", "--server", url, "undefined", "--fix", "window.zzzRemoteCli")
	require.NoError(t, err)
	assert.Contains(t, out, "Marked window.zzzRemoteCli fixed")

	out, _, err = execute(t, "remote", "--server", url, "undefined")
	require.NoError(t, err)
	assert.Contains(t, out, "window.zzzRemoteCli (fixed: manual)")

	_, _, err = execute(t, "remote", "--server", url, "snapshot", "save", "cli")
	require.NoError(t, err)
	out, _, err = execute(t, "remote", "--server", url, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cli")

	_, _, err = execute(t, "remote", "--server", url, "run", "--isolated", "--code", "1")
	assert.ErrorContains(t, err, "503")

	_, _, err = execute(t, "remote", "--server", url, "run", "--code", "throw new Error('remote nope')")
	assert.Error(t, err)
}
