package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/vector"
)

// fakeWriter 记录删除调用的 VectorWriter
type fakeWriter struct {
	deletedFolders []string
	deletedPaths   []string
}

func (w *fakeWriter) UpsertChunks(ctx context.Context, points []vector.PointRecord) error {
	return nil
}

func (w *fakeWriter) DeleteByPath(ctx context.Context, filePath string) error {
	w.deletedPaths = append(w.deletedPaths, filePath)
	return nil
}

func (w *fakeWriter) DeleteByFolder(ctx context.Context, folder string) error {
	w.deletedFolders = append(w.deletedFolders, folder)
	return nil
}

func (w *fakeWriter) Drain(ctx context.Context) error { return nil }
func (w *fakeWriter) QueueDepth() int                 { return 0 }

// fakeRepo 内存版状态仓库
type fakeRepo struct {
	records map[string]*index.FileStatusRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*index.FileStatusRecord)}
}

func (r *fakeRepo) SaveFileStatus(record *index.FileStatusRecord) error {
	r.records[record.FilePath] = record
	return nil
}

func (r *fakeRepo) GetFileStatus(filePath string) (*index.FileStatusRecord, error) {
	return r.records[filePath], nil
}

func (r *fakeRepo) GetAllFileStatus() ([]*index.FileStatusRecord, error) {
	var all []*index.FileStatusRecord
	for _, rec := range r.records {
		all = append(all, rec)
	}
	return all, nil
}

func (r *fakeRepo) DeleteFileStatus(filePath string) error {
	delete(r.records, filePath)
	return nil
}

func (r *fakeRepo) DeleteByFolder(folder string) error {
	for path := range r.records {
		if PathWithinFolder(path, folder) {
			delete(r.records, path)
		}
	}
	return nil
}

func (r *fakeRepo) ClearAll() error {
	r.records = make(map[string]*index.FileStatusRecord)
	return nil
}

func TestDetectRemoved(t *testing.T) {
	previous := map[string]*index.FolderStats{
		"/docs":  {Total: 3},
		"/notes": {Total: 1},
	}

	removed := DetectRemoved(previous, []string{"/notes"})
	assert.Equal(t, []string{"/docs"}, removed)

	assert.Empty(t, DetectRemoved(previous, []string{"/docs", "/notes"}))
}

func TestRemoveFolder_BoundarySafe(t *testing.T) {
	repo := newFakeRepo()
	repo.SaveFileStatus(&index.FileStatusRecord{FilePath: "/docs/a.txt", Status: index.StatusIndexed})
	repo.SaveFileStatus(&index.FileStatusRecord{FilePath: "/docs/sub/b.txt", Status: index.StatusIndexed})
	repo.SaveFileStatus(&index.FileStatusRecord{FilePath: "/docs2/x.txt", Status: index.StatusIndexed})

	cache := NewFileHashCache()
	cache.Set("/docs/a.txt", "1-1")
	cache.Set("/docs/sub/b.txt", "2-2")
	cache.Set("/docs2/x.txt", "3-3")

	writer := &fakeWriter{}
	m := NewFolderRemovalManager(repo, writer)

	require.NoError(t, m.RemoveFolder(context.Background(), "/docs", cache))

	// /docs2 不受影响
	rec, _ := repo.GetFileStatus("/docs2/x.txt")
	assert.NotNil(t, rec)
	_, ok := cache.Get("/docs2/x.txt")
	assert.True(t, ok)

	// /docs 下的全部清掉
	rec, _ = repo.GetFileStatus("/docs/a.txt")
	assert.Nil(t, rec)
	_, ok = cache.Get("/docs/sub/b.txt")
	assert.False(t, ok)

	assert.Equal(t, []string{"/docs"}, writer.deletedFolders)
}

func TestRemoveFile(t *testing.T) {
	repo := newFakeRepo()
	repo.SaveFileStatus(&index.FileStatusRecord{FilePath: "/docs/a.txt", Status: index.StatusIndexed})

	cache := NewFileHashCache()
	cache.Set("/docs/a.txt", "1-1")

	writer := &fakeWriter{}
	m := NewFolderRemovalManager(repo, writer)

	require.NoError(t, m.RemoveFile(context.Background(), "/docs/a.txt", cache))

	rec, _ := repo.GetFileStatus("/docs/a.txt")
	assert.Nil(t, rec)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, []string{"/docs/a.txt"}, writer.deletedPaths)
}

func TestFileHashCache_PurgeFolderBoundary(t *testing.T) {
	cache := NewFileHashCache()
	cache.Set("/docs/a.txt", "1")
	cache.Set("/docs2/b.txt", "2")

	purged := cache.PurgeFolder("/docs")
	assert.Equal(t, []string{"/docs/a.txt"}, purged)
	assert.Equal(t, 1, cache.Len())
}

func TestFileHashCache_LoadFromRecords(t *testing.T) {
	cache := NewFileHashCache()
	cache.LoadFromRecords([]*index.FileStatusRecord{
		{FilePath: "/a.txt", Status: index.StatusIndexed, FileHash: "1-1"},
		{FilePath: "/b.txt", Status: index.StatusFailed, FileHash: "2-2"},
	})

	_, ok := cache.Get("/a.txt")
	assert.True(t, ok)
	_, ok = cache.Get("/b.txt")
	assert.False(t, ok, "only successfully indexed files are cached")
}
