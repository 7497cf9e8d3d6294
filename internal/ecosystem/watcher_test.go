package ecosystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestPersonaWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	cat := NewCatalog()

	pw, err := NewPersonaWatcher(dir, cat)
	require.NoError(t, err)

	require.NoError(t, pw.Start(context.Background()))
	assert.True(t, pw.IsWatching())

	// Second start is a no-op
	require.NoError(t, pw.Start(context.Background()))

	pw.Stop()
	assert.False(t, pw.IsWatching())

	// Second stop is a no-op
	pw.Stop()
}

func TestPersonaWatcher_ReloadOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("debounce timing test skipped in short mode")
	}

	dir := t.TempDir()
	cat := NewCatalog()

	pw, err := NewPersonaWatcher(dir, cat)
	require.NoError(t, err)
	pw.debounceDur = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pw.Start(ctx))
	defer pw.Stop()

	profile := "node: POET\ninstruction: Compress everything into haiku.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poet.yaml"), []byte(profile), 0644))

	ok := waitFor(t, 5*time.Second, func() bool {
		p, found := cat.Get(NodePoet)
		return found && p.Instruction == "Compress everything into haiku."
	})
	require.True(t, ok, "profile change was not hot-reloaded")

	stats := pw.GetStats()
	assert.GreaterOrEqual(t, stats.Reloads, 1)
}

func TestPersonaWatcher_DeleteRestoresBuiltin(t *testing.T) {
	if testing.Short() {
		t.Skip("debounce timing test skipped in short mode")
	}

	dir := t.TempDir()
	cat := NewCatalog()

	path := filepath.Join(dir, "echo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: ECHO\ninstruction: Shout it back.\n"), 0644))
	require.NoError(t, cat.LoadFile(path))

	pw, err := NewPersonaWatcher(dir, cat)
	require.NoError(t, err)
	pw.debounceDur = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pw.Start(ctx))
	defer pw.Stop()

	require.NoError(t, os.Remove(path))

	ok := waitFor(t, 5*time.Second, func() bool {
		p, found := cat.Get(NodeEcho)
		return found && p.DisplayName == "Echo" && p.Instruction != "Shout it back."
	})
	require.True(t, ok, "deleted profile did not restore the builtin")
}
