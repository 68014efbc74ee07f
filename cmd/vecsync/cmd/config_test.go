package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/configs"
	"github.com/Aman-CERP/vecsync/internal/config"
)

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: no user config
	env := setupEnv(t)

	// When: running config init
	out := mustExecute(t, "config", "init")

	// Then: the template is written and loads cleanly
	assert.Contains(t, out, "Created "+env.configFile)
	data, err := os.ReadFile(env.configFile)
	require.NoError(t, err)
	assert.Equal(t, configs.ConfigTemplate, string(data))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Defaults.ChunkSize, cfg.Defaults.ChunkSize)
	assert.Empty(t, cfg.Repositories)
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	env := setupEnv(t)
	addDocsRepo(t)

	out := mustExecute(t, "config", "init")
	assert.Contains(t, out, "already exists")

	data, err := os.ReadFile(env.configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: docs")

	// With --force the template replaces it and a backup is kept.
	out = mustExecute(t, "config", "init", "--force")
	assert.Contains(t, out, "Backed up to")
	backups, err := config.ListBackups(env.configFile)
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
}

func TestConfigShow_MasksKeys(t *testing.T) {
	setupEnv(t)
	t.Setenv("VECSYNC_QDRANT_API_KEY", "super-secret")

	out := mustExecute(t, "config", "show")
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "vector_store:")
	assert.Contains(t, out, "****")

	out = mustExecute(t, "config", "show", "--json")
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Contains(t, view, "embeddings")
}

func TestConfigPath(t *testing.T) {
	env := setupEnv(t)

	out := mustExecute(t, "config", "path")

	assert.Equal(t, env.configFile, strings.TrimSpace(out))
}
