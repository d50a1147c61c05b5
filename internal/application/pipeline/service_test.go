package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/parser"
	"github.com/foldex/backend/internal/infrastructure/watcher"
)

// stubBackend 不真正拉起任何进程的后端
type stubBackend struct{}

func (stubBackend) Start() error  { return nil }
func (stubBackend) Stop() error   { return nil }
func (stubBackend) MemoryMB() int { return 0 }

// newTestService 手工组装最小可用的管道服务，数据目录指向临时目录
func newTestService(t *testing.T, folders ...string) (*Service, *fakeRepo, *fakeWriter) {
	t.Helper()
	t.Setenv(config.EnvDataDir, t.TempDir())
	config.ResetDataDir()
	t.Cleanup(config.ResetDataDir)

	cfg := config.NewConfig()
	cfg.Pipeline.RescanInterval = 20 * time.Millisecond

	repo := newFakeRepo()
	writer := &fakeWriter{}
	registry := parser.NewRegistry()

	batch := NewBatchQueue(&fakeEmbedder{}, embedding.HeuristicEstimator{}, &cfg.Pipeline)
	batch.SetProcessor(func(items []BatchItem, vectors [][]float32) error { return nil })

	svc := &Service{
		cfg:         cfg,
		registry:    registry,
		chunker:     parser.NewChunker(),
		planner:     NewPlanner(registry, &cfg.Pipeline),
		fileQueue:   NewFileQueue(&cfg.Pipeline),
		batch:       batch,
		writer:      writer,
		repo:        repo,
		supervisor:  embedding.NewSupervisor(stubBackend{}, &cfg.Embedding),
		removal:     NewFolderRemovalManager(repo, writer),
		scanMeta:    watcher.NewScanMetadata(),
		hashCache:   NewFileHashCache(),
		folderStats: make(map[string]*index.FolderStats),
		watched:     folders,
		logger:      log.NewModuleLogger("pipeline", "service"),
	}
	return svc, repo, writer
}

func TestService_PeriodicRescanRetriesFailedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	svc, repo, _ := newTestService(t, dir)

	// 重试间隔已到期的失败文件，常驻运行期间没有任何事件触碰它
	require.NoError(t, repo.SaveFileStatus(&index.FileStatusRecord{
		FilePath:      path,
		Status:        index.StatusFailed,
		ParserVersion: svc.registry.Version(".txt"),
		LastRetry:     time.Now().Add(-25 * time.Hour).Unix(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.rescanLoop(ctx)

	require.Eventually(t, func() bool {
		return svc.fileQueue.Stats().Queued > 0
	}, 2*time.Second, 10*time.Millisecond, "periodic rescan never enqueued the retryable file")
}

func TestService_RescanLoopDisabledByZeroInterval(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.Pipeline.RescanInterval = 0

	done := make(chan struct{})
	go func() {
		svc.rescanLoop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rescanLoop with zero interval should return immediately")
	}
}

func TestLongestFolder(t *testing.T) {
	folders := []string{"/data", "/data/sub"}
	assert.Equal(t, "/data/sub", longestFolder("/data/sub/a.txt", folders))
	assert.Equal(t, "/data", longestFolder("/data/a.txt", folders))
	assert.Equal(t, "", longestFolder("/elsewhere/a.txt", folders))
}

func TestService_ProgressCountersUseLongestFolderMatch(t *testing.T) {
	svc, _, _ := newTestService(t, "/data", "/data/sub")
	svc.folderStats["/data"] = &index.FolderStats{Total: 5}
	svc.folderStats["/data/sub"] = &index.FolderStats{Total: 3}

	// 嵌套文件夹：计数只记在最长匹配的文件夹上
	svc.markIndexed("/data/sub/a.txt")
	assert.Equal(t, 0, svc.folderStats["/data"].Indexed)
	assert.Equal(t, 1, svc.folderStats["/data/sub"].Indexed)

	svc.markRemoved("/data/sub/b.txt")
	assert.Equal(t, 5, svc.folderStats["/data"].Total)
	assert.Equal(t, 2, svc.folderStats["/data/sub"].Total)
}

func TestService_HandleFileClearsRowsFromFailedRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("some content worth indexing"), 0644))

	svc, repo, writer := newTestService(t, dir)
	startQueue(t, svc.batch)

	// 上一轮部分写入后失败：存在状态记录，但 hash 缓存里没有
	require.NoError(t, repo.SaveFileStatus(&index.FileStatusRecord{
		FilePath: path,
		Status:   index.StatusFailed,
	}))

	require.NoError(t, svc.handleFile(path))

	assert.Contains(t, writer.deletedPaths, path, "stale rows from the failed run must be deleted before reindexing")
	rec, err := repo.GetFileStatus(path)
	require.NoError(t, err)
	assert.Equal(t, index.StatusIndexed, rec.Status)
}
