package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/domain/events"
	"github.com/foldex/backend/internal/infrastructure/config"
)

// eventCollector 收集发布的文件事件，便于断言
type eventCollector struct {
	mu     sync.Mutex
	events []*events.WatchedFileEvent
}

func (c *eventCollector) handle(event events.Event) error {
	if e, ok := event.(*events.WatchedFileEvent); ok {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
	return nil
}

func (c *eventCollector) snapshot() []*events.WatchedFileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*events.WatchedFileEvent{}, c.events...)
}

func (c *eventCollector) waitFor(t *testing.T, n int, timeout time.Duration) []*events.WatchedFileEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got := c.snapshot()
		if len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.snapshot()
}

func newTestWatcher(t *testing.T, folders ...string) (*FileWatcher, *eventCollector, events.EventBus) {
	t.Helper()

	watchCfg := &config.WatchConfig{
		DebounceDelay:     30 * time.Millisecond,
		FullScanThreshold: time.Hour,
	}
	pipeCfg := &config.PipelineConfig{
		FileTypes:       map[string]bool{".txt": true, ".md": true},
		ExcludePatterns: []string{".git", "node_modules"},
	}

	bus := NewEventBus()
	collector := &eventCollector{}
	bus.SubscribeMultiple([]events.EventType{
		events.WatchedFileCreated,
		events.WatchedFileModified,
		events.WatchedFileDeleted,
	}, events.HandlerFunc(collector.handle))

	fw, err := NewFileWatcher(watchCfg, pipeCfg, bus)
	require.NoError(t, err)
	require.NoError(t, fw.Start(folders))
	t.Cleanup(func() {
		fw.Stop()
		bus.Close()
	})
	return fw, collector, bus
}

func TestFileWatcher_CreateEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	_, collector, _ := newTestWatcher(t, dir)

	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	got := collector.waitFor(t, 1, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, path, got[0].FilePath)
	assert.Equal(t, dir, got[0].Folder)
	assert.Contains(t, []events.EventType{events.WatchedFileCreated, events.WatchedFileModified}, got[0].EventType)
}

func TestFileWatcher_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	_, collector, _ := newTestWatcher(t, dir)

	path := filepath.Join(dir, "busy.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("rev"), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	// 等待防抖窗口结束，再留出观察期确认没有后续事件
	got := collector.waitFor(t, 1, 2*time.Second)
	require.NotEmpty(t, got)
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, len(collector.snapshot()), 2, "rapid writes should coalesce")
}

func TestFileWatcher_DeleteEmitsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, collector, _ := newTestWatcher(t, dir)
	require.NoError(t, os.Remove(path))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range collector.snapshot() {
			if e.EventType == events.WatchedFileDeleted && e.FilePath == path {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected deleted event for %s, got %v", path, collector.snapshot())
}

func TestFileWatcher_IgnoresUnsupportedAndExcluded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	_, collector, _ := newTestWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config.txt"), []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, collector.snapshot())
}

func TestFileWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	_, collector, _ := newTestWatcher(t, dir)

	sub := filepath.Join(dir, "chapter")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond) // 等新目录纳入监听

	path := filepath.Join(sub, "draft.md")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0644))

	got := collector.waitFor(t, 1, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, path, got[0].FilePath)
	assert.Equal(t, dir, got[0].Folder)
}

func TestFileWatcher_SetFoldersAddsAndRemoves(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	fw, collector, _ := newTestWatcher(t, dirA)

	require.NoError(t, fw.SetFolders([]string{dirB}))

	// dirA 已不再监听
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "old.txt"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, collector.snapshot())

	path := filepath.Join(dirB, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	got := collector.waitFor(t, 1, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, dirB, got[0].Folder)
}

func TestFileWatcher_ReactsToWatchSetEvent(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	_, collector, bus := newTestWatcher(t, dirA)

	bus.Publish(&events.WatchSetEvent{Folders: []string{dirB}, EventTime: time.Now()})
	time.Sleep(100 * time.Millisecond) // 事件总线异步分发

	path := filepath.Join(dirB, "added.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	got := collector.waitFor(t, 1, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, dirB, got[0].Folder)
}
