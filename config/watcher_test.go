package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventSink struct {
	mu     sync.Mutex
	events []FileEvent
}

func (s *eventSink) add(e FileEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) snapshot() []FileEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileEvent(nil), s.events...)
}

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := tempFile(t, "test.yaml", "key: val")

	w, err := NewFileWatcher([]string{f, f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths(), "duplicates collapse")
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	f := tempFile(t, "test.yaml", "key: val")
	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(500*time.Millisecond),
		WithDebounceDelay(0), // ignored
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_NonExistentPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.yaml")
	w, err := NewFileWatcher([]string{path})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, w.Paths())
}

// --- AddPath / RemovePath ---

func TestFileWatcher_AddRemovePath(t *testing.T) {
	f1 := tempFile(t, "a.yaml", "a")
	f2 := tempFile(t, "b.yaml", "b")

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)

	require.NoError(t, w.AddPath(f2))
	require.NoError(t, w.AddPath(f2))
	assert.Equal(t, []string{f1, f2}, w.Paths())

	require.NoError(t, w.RemovePath(f1))
	assert.Equal(t, []string{f2}, w.Paths())
	assert.Error(t, w.RemovePath(f1))
}

// --- Start / Stop ---

func TestFileWatcher_StartStop(t *testing.T) {
	f := tempFile(t, "cfg.yaml", "a: 1")
	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherRunning)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "second stop is a no-op")
}

func TestFileWatcher_DebouncesWrites(t *testing.T) {
	f := tempFile(t, "cfg.yaml", "a: 1")
	other := filepath.Join(filepath.Dir(f), "other.yaml")

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)
	sink := &eventSink{}
	w.OnChange(sink.add)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := range 5 {
		require.NoError(t, os.WriteFile(f, []byte("a: "+string(rune('2'+i))), 0o644))
	}
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	events := sink.snapshot()
	require.Len(t, events, 1, "burst collapses into one event")
	assert.Equal(t, f, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

func TestFileWatcher_DetectsCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.yaml")
	w, err := NewFileWatcher([]string{path}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	sink := &eventSink{}
	w.OnChange(sink.add)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o644))
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, []FileOp{FileOpCreate, FileOpWrite}, sink.snapshot()[0].Op)
}

func TestFileWatcher_StopsWithContext(t *testing.T) {
	f := tempFile(t, "cfg.yaml", "a: 1")
	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	sink := &eventSink{}
	w.OnChange(sink.add)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	require.NoError(t, w.Stop())

	require.NoError(t, os.WriteFile(f, []byte("a: 2"), 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestFileOp_String(t *testing.T) {
	tests := map[FileOp]string{
		FileOpCreate: "CREATE",
		FileOpWrite:  "WRITE",
		FileOpRemove: "REMOVE",
		FileOpRename: "RENAME",
		FileOpChmod:  "CHMOD",
		FileOp(42):   "UNKNOWN",
	}
	for op, want := range tests {
		assert.Equal(t, want, op.String())
	}
}
