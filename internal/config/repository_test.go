package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

func TestValidateName(t *testing.T) {
	valid := []string{"docs", "my-repo", "repo_1", "a.b", "X"}
	for _, n := range valid {
		assert.NoError(t, ValidateName(n), n)
	}

	invalidNames := []string{"", "  ", "-lead", "has space", "slash/name", string(make([]byte, 70))}
	for _, n := range invalidNames {
		err := ValidateName(n)
		assert.Error(t, err, n)
		assert.Equal(t, verrors.ErrCodeInvalidRepository, verrors.GetCode(err))
	}
}

func TestRepository_Validate_Path(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, Repository{Name: "ok", Path: dir}.Validate())

	err := Repository{Name: "missing", Path: filepath.Join(dir, "nope")}.Validate()
	require.Error(t, err)
	assert.True(t, verrors.IsFatal(err))

	err = Repository{Name: "file", Path: file}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	err = Repository{Name: "empty"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no path")
}

func TestRepository_Effective_InheritsDefaults(t *testing.T) {
	// Given: a repository with only a name, path and one override
	defaults := NewConfig().Defaults
	watch := WatchConfig{DefaultInterval: time.Minute}
	r := Repository{
		Name: "docs",
		Path: "relative/docs",
		FileTypeConfig: map[string]FileTypeConfig{
			"MD":   {ChunkSize: 200, ChunkStrategy: "paragraph"},
			".bin": {Exclude: true},
		},
	}

	// When: resolving
	eff := r.Effective(defaults, watch)

	// Then: unset fields are inherited and the path is absolute
	assert.True(t, filepath.IsAbs(eff.Path))
	assert.Equal(t, defaults.Include, eff.Include)
	assert.Equal(t, defaults.ChunkSize, eff.ChunkSize)
	assert.Equal(t, "word", eff.ChunkStrategy)
	assert.Equal(t, time.Minute, eff.WatchInterval)
	assert.True(t, eff.GitignoreEnabled())
	assert.Equal(t, []string{".bin"}, eff.ExcludedExtensions())

	size, strategy := eff.ChunkSettings(".md")
	assert.Equal(t, 200, size)
	assert.Equal(t, "paragraph", strategy)

	size, strategy = eff.ChunkSettings(".txt")
	assert.Equal(t, defaults.ChunkSize, size)
	assert.Equal(t, "word", strategy)

	// And: the original is not mutated
	assert.Empty(t, r.Include)
	_, hasUpper := r.FileTypeConfig["MD"]
	assert.True(t, hasUpper)
}

func TestConfig_RepositoryLifecycle(t *testing.T) {
	cfg := NewConfig()
	dir := t.TempDir()

	require.NoError(t, cfg.AddRepository(Repository{Name: "docs", Path: dir}))

	err := cfg.AddRepository(Repository{Name: "docs", Path: dir})
	assert.Equal(t, verrors.ErrCodeRepositoryExists, verrors.GetCode(err))

	r, err := cfg.Repository("docs")
	require.NoError(t, err)
	assert.Equal(t, dir, r.Path)

	require.NoError(t, cfg.SetWatchMode("docs", true))
	assert.True(t, cfg.Repositories[0].WatchMode)
	assert.Len(t, cfg.EffectiveRepositories(), 1)

	assert.Error(t, cfg.SetWatchMode("nope", true))
	require.NoError(t, cfg.RemoveRepository("docs"))
	_, err = cfg.Repository("docs")
	assert.Equal(t, verrors.ErrCodeRepositoryNotFound, verrors.GetCode(err))
	assert.Error(t, cfg.RemoveRepository("docs"))
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, ".md", NormalizeExt("MD"))
	assert.Equal(t, ".go", NormalizeExt(".go"))
	assert.Equal(t, "", NormalizeExt(""))
}
