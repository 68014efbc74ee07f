package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv isolates the config, data and log directories and selects
// offline backends.
type testEnv struct {
	home       string
	configFile string
	dataDir    string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	env := &testEnv{
		home:       home,
		configFile: filepath.Join(home, "config", "vecsync", "config.yaml"),
		dataDir:    filepath.Join(home, "data"),
	}

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("VECSYNC_CONFIG", "")
	t.Setenv("VECSYNC_DATA_DIR", env.dataDir)
	t.Setenv("VECSYNC_LOG_DIR", filepath.Join(home, "logs"))
	t.Setenv("VECSYNC_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("VECSYNC_VECTOR_STORE", "hnsw")
	t.Setenv("VECSYNC_LEDGER_BACKEND", "json")
	t.Setenv("VECSYNC_COLLECTION", "")
	return env
}

// makeRepo writes files under a new directory and returns its path.
func makeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// mustExecute runs args and fails the test on error.
func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	return out
}

// addDocsRepo registers a two-file repository named docs.
func addDocsRepo(t *testing.T) string {
	t.Helper()
	dir := makeRepo(t, map[string]string{
		"a.md":       "Hello world from the docs",
		"guide/b.md": "Second file with other words",
	})
	mustExecute(t, "repo", "add", "docs", dir)
	return dir
}
