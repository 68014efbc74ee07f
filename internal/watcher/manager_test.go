package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/config"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/scanner"
)

func testRepository(t *testing.T, name string) config.Repository {
	t.Helper()
	cfg := config.NewConfig()
	return config.Repository{
		Name:          name,
		Path:          t.TempDir(),
		WatchInterval: 50 * time.Millisecond,
	}.Effective(cfg.Defaults, cfg.Watch)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)
	m := NewManager(sc, nil)
	t.Cleanup(m.StopAll)
	return m
}

func TestManager_StartTwiceFails(t *testing.T) {
	// Given: a watched repository
	m := newTestManager(t)
	repo := testRepository(t, "docs")
	h, err := m.Start(context.Background(), repo, newRecorder().onChange)
	require.NoError(t, err)
	assert.Equal(t, "docs", h.Name)
	assert.Equal(t, 100*time.Millisecond, h.Interval)

	// When: starting it again
	_, err = m.Start(context.Background(), repo, newRecorder().onChange)

	// Then: the second start is rejected
	assert.ErrorIs(t, err, ErrAlreadyWatching)
	assert.Equal(t, verrors.ErrCodeAlreadyWatching, verrors.GetCode(err))
	assert.Equal(t, []string{"docs"}, m.Active())
}

func TestManager_StopAndRestart(t *testing.T) {
	m := newTestManager(t)
	repo := testRepository(t, "docs")
	h, err := m.Start(context.Background(), repo, newRecorder().onChange)
	require.NoError(t, err)

	require.NoError(t, m.Stop("docs"))
	assert.Empty(t, m.Active())
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	_, err = m.Start(context.Background(), repo, newRecorder().onChange)
	require.NoError(t, err)
	assert.NotNil(t, m.Get("docs"))
}

func TestManager_StopUnknown(t *testing.T) {
	m := newTestManager(t)

	err := m.Stop("nope")

	assert.ErrorIs(t, err, ErrNotWatching)
}

func TestManager_ActiveSortedAndStopAll(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := m.Start(context.Background(), testRepository(t, name), newRecorder().onChange)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, m.Active())

	m.StopAll()
	assert.Empty(t, m.Active())
}

func TestManager_ForgetsCancelledWatchers(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := m.Start(ctx, testRepository(t, "docs"), newRecorder().onChange)
	require.NoError(t, err)

	cancel()
	<-h.Done()

	assert.Eventually(t, func() bool { return len(m.Active()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_FailedStartIsNotRegistered(t *testing.T) {
	m := newTestManager(t)
	repo := testRepository(t, "docs")
	repo.Path = repo.Path + "/missing"

	_, err := m.Start(context.Background(), repo, newRecorder().onChange)

	assert.Error(t, err)
	assert.Empty(t, m.Active())
}
