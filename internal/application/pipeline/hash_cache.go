package pipeline

import (
	"sync"

	"github.com/foldex/backend/internal/domain/index"
)

// FileHashCache 路径 → 廉价签名的内存缓存。
// 用于跳过未变化的文件而不必查库；启动时从状态表回填，
// 每次成功索引后更新，文件删除时移除。
type FileHashCache struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewFileHashCache 创建空缓存
func NewFileHashCache() *FileHashCache {
	return &FileHashCache{hashes: make(map[string]string)}
}

// LoadFromRecords 从状态记录回填缓存
func (c *FileHashCache) LoadFromRecords(records []*index.FileStatusRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		if r.Status == index.StatusIndexed && r.FileHash != "" {
			c.hashes[r.FilePath] = r.FileHash
		}
	}
}

// Get 查询签名
func (c *FileHashCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[path]
	return h, ok
}

// Set 更新签名
func (c *FileHashCache) Set(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[path] = hash
}

// Delete 移除条目
func (c *FileHashCache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, path)
}

// PurgeFolder 移除文件夹下的全部条目，返回被移除的路径
func (c *FileHashCache) PurgeFolder(folder string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged []string
	for path := range c.hashes {
		if PathWithinFolder(path, folder) {
			purged = append(purged, path)
			delete(c.hashes, path)
		}
	}
	return purged
}

// Len 缓存条目数
func (c *FileHashCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}
