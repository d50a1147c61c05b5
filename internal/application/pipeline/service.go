package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/foldex/backend/internal/domain/events"
	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/parser"
	"github.com/foldex/backend/internal/infrastructure/vector"
	"github.com/foldex/backend/internal/infrastructure/watcher"
)

// 关停时各阶段的排空时限，超时记日志并跳过，绝不无限阻塞
const (
	drainFileQueueTimeout  = 30 * time.Second
	drainBatchQueueTimeout = 30 * time.Second
	drainWriterTimeout     = 10 * time.Second
)

// ProgressSnapshot 供 UI/CLI 轮询或推送的进度快照
type ProgressSnapshot struct {
	Files     FileQueueStats               `json:"files"`
	Embedding BatchStats                   `json:"embedding"`
	Folders   map[string]index.FolderStats `json:"folders"`
}

// Service 索引管道编排器。
// 持有管道的全部共享状态（签名缓存、文件夹统计、队列），
// 启动时构建、关停时整体释放，组件之间不共享全局变量。
type Service struct {
	cfg       *config.Config
	configMgr *config.Manager

	registry   *parser.Registry
	chunker    *parser.Chunker
	planner    *Planner
	fileQueue  *FileQueue
	batch      *BatchQueue
	writer     VectorWriter
	repo       index.FileStatusRepository
	supervisor *embedding.Supervisor
	removal    *FolderRemovalManager
	bus        events.EventBus
	scanMeta   *watcher.ScanMetadata

	hashCache *FileHashCache

	mu          sync.Mutex
	watched     []string
	folderStats map[string]*index.FolderStats
	scanning    bool

	cancel      context.CancelFunc
	loops       sync.WaitGroup
	unsubscribe func()

	logger *slog.Logger
}

// NewService 创建管道服务
func NewService(
	cfg *config.Config,
	configMgr *config.Manager,
	registry *parser.Registry,
	chunker *parser.Chunker,
	planner *Planner,
	fileQueue *FileQueue,
	batch *BatchQueue,
	writer VectorWriter,
	repo index.FileStatusRepository,
	supervisor *embedding.Supervisor,
	removal *FolderRemovalManager,
	bus events.EventBus,
	scanMeta *watcher.ScanMetadata,
) *Service {
	return &Service{
		cfg:         cfg,
		configMgr:   configMgr,
		registry:    registry,
		chunker:     chunker,
		planner:     planner,
		fileQueue:   fileQueue,
		batch:       batch,
		writer:      writer,
		repo:        repo,
		supervisor:  supervisor,
		removal:     removal,
		bus:         bus,
		scanMeta:    scanMeta,
		hashCache:   NewFileHashCache(),
		folderStats: make(map[string]*index.FolderStats),
		logger:      log.NewModuleLogger("pipeline", "service"),
	}
}

// Start 启动管道：回填缓存、订阅事件、启动驱动循环、触发首次扫描
func (s *Service) Start() error {
	uc, err := s.configMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load user config: %w", err)
	}
	s.mu.Lock()
	s.watched = append([]string{}, uc.Folders...)
	s.mu.Unlock()

	records, err := s.repo.GetAllFileStatus()
	if err != nil {
		return fmt.Errorf("failed to load file status: %w", err)
	}
	s.hashCache.LoadFromRecords(records)
	s.rebuildFolderStats(records)

	s.batch.SetProcessor(s.processBatch)
	s.supervisor.AddRestartListener(s.batch)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.batch.Run(ctx)
	}()
	go func() {
		defer s.loops.Done()
		s.fileQueue.Run(ctx, s.handleFile, embedding.RuntimeMemoryMB, s.batch.ShouldApplyBackpressure)
	}()

	s.unsubscribe = s.bus.SubscribeMultiple([]events.EventType{
		events.WatchedFileCreated,
		events.WatchedFileModified,
		events.WatchedFileDeleted,
		events.WatchSetChanged,
	}, events.HandlerFunc(s.handleEvent))

	go func() {
		if !s.needsFullScan() {
			s.logger.Info("last scan is recent, skipping startup scan")
			return
		}
		if err := s.ScanAndIndex(ctx, false); err != nil {
			s.logger.Error("initial scan failed", "error", err)
		}
	}()

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.rescanLoop(ctx)
	}()

	s.logger.Info("pipeline started", "folders", len(uc.Folders))
	return nil
}

// Shutdown 分阶段有界排空：
// 停收新事件 → 等文件队列 → 等向量化队列 → 等写串行器。
// 每个阶段超时记日志并跳过。
func (s *Service) Shutdown() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.fileQueue.Pause()

	waitCtx, cancel := context.WithTimeout(context.Background(), drainFileQueueTimeout)
	if err := s.waitFileQueueIdle(waitCtx); err != nil {
		s.logger.Warn("file queue drain timed out, skipping", "error", err)
	}
	cancel()

	waitCtx, cancel = context.WithTimeout(context.Background(), drainBatchQueueTimeout)
	if err := s.batch.Drain(waitCtx); err != nil {
		s.logger.Warn("batch queue drain timed out, skipping", "error", err)
	}
	cancel()

	s.batch.Close()
	if s.cancel != nil {
		s.cancel()
	}

	waitCtx, cancel = context.WithTimeout(context.Background(), drainWriterTimeout)
	if err := s.writer.Drain(waitCtx); err != nil {
		s.logger.Warn("write queue drain timed out, skipping", "error", err)
	}
	cancel()

	s.loops.Wait()
	s.logger.Info("pipeline stopped")
}

// rescanLoop 周期性重扫。常驻运行期间事件覆盖不到的变化
// （重试间隔到期的失败文件、错过的事件）由它兜底。
func (s *Service) rescanLoop(ctx context.Context) {
	interval := s.cfg.Pipeline.RescanInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanAndIndex(ctx, false); err != nil {
				s.logger.Error("periodic scan failed", "error", err)
			}
		}
	}
}

func (s *Service) waitFileQueueIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := s.fileQueue.Stats()
		if stats.Processing == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanAndIndex 扫描受监控文件夹，决策并入队需要(重新)索引的文件
func (s *Service) ScanAndIndex(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		s.logger.Info("scan already running, skipping")
		return nil
	}
	s.scanning = true
	folders := append([]string{}, s.watched...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	candidates, hashes, err := s.scanFolders(ctx, folders)
	if err != nil {
		return fmt.Errorf("folder scan failed: %w", err)
	}

	records, err := s.repo.GetAllFileStatus()
	if err != nil {
		return fmt.Errorf("failed to load status snapshot: %w", err)
	}
	snapshot := make(map[string]*index.FileStatusRecord, len(records))
	for _, r := range records {
		snapshot[r.FilePath] = r
	}

	plan := s.planner.Plan(PlanRequest{
		Candidates:     candidates,
		Snapshot:       snapshot,
		CurrentHashes:  hashes,
		WatchedFolders: folders,
		ForceReindex:   force,
		CheckModified:  true,
	})

	warnings, err := ValidatePlan(plan)
	for _, w := range warnings {
		s.logger.Warn("plan validation", "warning", w)
	}
	if err != nil {
		return fmt.Errorf("plan validation failed: %w", err)
	}

	for _, path := range plan.FilesToRemove {
		if err := s.removal.RemoveFile(ctx, path, s.hashCache); err != nil {
			s.logger.Warn("failed to remove vanished file", "path", path, "error", err)
		}
	}

	s.updateFolderTotals(folders, candidates, snapshot)
	s.fileQueue.Add(plan.FilesToIndex...)
	s.scanMeta.SetLastScanTime(time.Now())
	return nil
}

// needsFullScan 距上次完整扫描超过阈值才需要启动时全量扫描
func (s *Service) needsFullScan() bool {
	last := s.scanMeta.GetLastScanTime()
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= s.cfg.Watch.FullScanThreshold
}

// scanFolders 并行遍历受监控文件夹，收集受支持且未被排除的文件及其签名
func (s *Service) scanFolders(ctx context.Context, folders []string) ([]string, map[string]string, error) {
	var mu sync.Mutex
	var candidates []string
	hashes := make(map[string]string)

	g, ctx := errgroup.WithContext(ctx)
	for _, folder := range folders {
		folder := folder
		g.Go(func() error {
			return filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					// 文件夹消失或无权限：跳过子树，不让单个目录拖垮扫描
					s.logger.Warn("scan error, skipping", "path", path, "error", err)
					if d != nil && d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					if s.isExcluded(path) {
						return filepath.SkipDir
					}
					return nil
				}
				if !s.isSupported(path) || s.isExcluded(path) {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				mu.Lock()
				candidates = append(candidates, path)
				hashes[path] = index.FileSignature(info)
				mu.Unlock()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return candidates, hashes, nil
}

func (s *Service) isSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.cfg.Pipeline.FileTypes[ext] && s.registry.Supports(ext)
}

func (s *Service) isExcluded(path string) bool {
	for _, pattern := range s.cfg.Pipeline.ExcludePatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// handleFile 单文件处理：解析 → 切片 → 入队 → 等完成 → 落状态。
// 任何异常都转成状态记录更新，绝不向调度循环抛出。
func (s *Service) handleFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件在管道处理途中消失：按删除处理，不算失败
			s.logger.Info("file vanished, removing", "path", path)
			return s.removal.RemoveFile(context.Background(), path, s.hashCache)
		}
		return s.recordFailure(path, nil, index.StatusError, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	parserVersion := s.registry.Version(ext)

	text, err := s.registry.Extract(path)
	if err != nil {
		if errors.Is(err, index.ErrSourceMissing) {
			return s.removal.RemoveFile(context.Background(), path, s.hashCache)
		}
		return s.recordFailure(path, info, index.StatusFailed, err)
	}

	chunks := s.chunker.Chunk(text, s.cfg.Pipeline.ChunkSize, s.cfg.Pipeline.ChunkOverlap)
	if len(chunks) == 0 {
		return s.recordFailure(path, info, index.StatusFailed, &index.EmptyContentError{Path: path})
	}

	// 重索引前清掉旧行：切片边界变化会留下孤儿行，覆盖写入管不到它们。
	// 失败的上一轮也可能写进了部分行，所以只要有过状态记录就清，
	// 不能只看成功索引才会填充的 hash 缓存
	_, hadHash := s.hashCache.Get(path)
	if !hadHash {
		prev, err := s.repo.GetFileStatus(path)
		if err != nil {
			return s.recordFailure(path, info, index.StatusError, err)
		}
		hadHash = prev != nil
	}
	if hadHash {
		if err := s.writer.DeleteByPath(context.Background(), path); err != nil {
			return s.recordFailure(path, info, index.StatusError, err)
		}
	}

	if err := s.batch.AddChunks(chunks, path, 0); err != nil {
		return s.recordFailure(path, info, index.StatusError, err)
	}
	defer s.batch.CleanupFileTracker(path)

	if err := s.batch.WaitForCompletion(path); err != nil {
		status := index.StatusFailed
		var se *index.StorageError
		if errors.As(err, &se) {
			status = index.StatusError
		}
		return s.recordFailure(path, info, status, err)
	}

	now := time.Now().Unix()
	record := &index.FileStatusRecord{
		FilePath:      path,
		Status:        index.StatusIndexed,
		ParserVersion: parserVersion,
		ChunkCount:    len(chunks),
		FileHash:      index.FileSignature(info),
		LastModified:  info.ModTime().Unix(),
		IndexedAt:     now,
	}
	if err := s.repo.SaveFileStatus(record); err != nil {
		return fmt.Errorf("failed to persist status for %s: %w", path, err)
	}

	s.hashCache.Set(path, record.FileHash)
	s.markIndexed(path)
	s.supervisor.FileProcessed()

	s.logger.Debug("file indexed", "path", path, "chunks", len(chunks))
	return nil
}

// recordFailure 把失败落成状态记录。持久化本身失败时才返回原始错误之外的错误。
func (s *Service) recordFailure(path string, info os.FileInfo, status index.FileStatus, cause error) error {
	now := time.Now().Unix()
	record := &index.FileStatusRecord{
		FilePath:      path,
		Status:        status,
		ErrorMessage:  cause.Error(),
		LastRetry:     now,
		ParserVersion: s.registry.Version(strings.ToLower(filepath.Ext(path))),
	}
	if info != nil {
		record.FileHash = index.FileSignature(info)
		record.LastModified = info.ModTime().Unix()
	}

	if err := s.repo.SaveFileStatus(record); err != nil {
		s.logger.Error("failed to persist failure status", "path", path, "error", err)
	}
	return cause
}

// processBatch 把向量化结果转成存储行并通过写串行器提交
func (s *Service) processBatch(items []BatchItem, vectors [][]float32) error {
	now := time.Now().Unix()
	points := make([]vector.PointRecord, len(items))
	for i, item := range items {
		points[i] = vector.PointRecord{
			FilePath:  item.FilePath,
			Folder:    s.folderOf(item.FilePath),
			Page:      item.Chunk.Page,
			Offset:    item.Chunk.Offset,
			Text:      item.Chunk.Text,
			Vector:    vectors[i],
			IndexedAt: now,
		}
	}
	return s.writer.UpsertChunks(context.Background(), points)
}

// handleEvent 消费文件监控层的事件
func (s *Service) handleEvent(event events.Event) error {
	switch e := event.(type) {
	case *events.WatchedFileEvent:
		switch e.EventType {
		case events.WatchedFileCreated, events.WatchedFileModified:
			if s.isSupported(e.FilePath) && !s.isExcluded(e.FilePath) {
				s.fileQueue.Add(e.FilePath)
			}
		case events.WatchedFileDeleted:
			if err := s.removal.RemoveFile(context.Background(), e.FilePath, s.hashCache); err != nil {
				s.logger.Warn("failed to remove deleted file", "path", e.FilePath, "error", err)
			}
			s.markRemoved(e.FilePath)
		}
	case *events.WatchSetEvent:
		s.reconcileWatchSet(e.Folders)
	}
	return nil
}

// reconcileWatchSet 对比新旧文件夹集合，清理被取消监控的文件夹并扫描新增的
func (s *Service) reconcileWatchSet(folders []string) {
	s.mu.Lock()
	removed := DetectRemoved(s.folderStats, folders)
	s.watched = append([]string{}, folders...)
	s.mu.Unlock()

	ctx := context.Background()
	for _, folder := range removed {
		if err := s.removal.RemoveFolder(ctx, folder, s.hashCache); err != nil {
			s.logger.Error("folder removal failed", "folder", folder, "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.folderStats, folder)
		s.mu.Unlock()
	}

	go func() {
		if err := s.ScanAndIndex(ctx, false); err != nil {
			s.logger.Error("rescan after watch-set change failed", "error", err)
		}
	}()
}

// Folders 当前受监控文件夹列表
func (s *Service) Folders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.watched...)
}

// AddFolder 新增受监控文件夹并持久化，触发增量扫描
func (s *Service) AddFolder(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("folder not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	path = filepath.Clean(path)

	uc, err := s.configMgr.Load()
	if err != nil {
		return err
	}
	for _, f := range uc.Folders {
		if f == path {
			return fmt.Errorf("folder already watched: %s", path)
		}
	}
	uc.Folders = append(uc.Folders, path)
	if err := s.configMgr.Save(uc); err != nil {
		return err
	}

	s.bus.Publish(&events.WatchSetEvent{Folders: uc.Folders, EventTime: time.Now()})
	return nil
}

// RemoveFolder 取消监控文件夹并持久化，触发清理
func (s *Service) RemoveFolder(path string) error {
	path = filepath.Clean(path)

	uc, err := s.configMgr.Load()
	if err != nil {
		return err
	}
	kept := uc.Folders[:0]
	found := false
	for _, f := range uc.Folders {
		if f == path {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return fmt.Errorf("folder not watched: %s", path)
	}
	uc.Folders = kept
	if err := s.configMgr.Save(uc); err != nil {
		return err
	}

	s.bus.Publish(&events.WatchSetEvent{Folders: uc.Folders, EventTime: time.Now()})
	return nil
}

// ForceReindex 无条件重索引全部受监控文件
func (s *Service) ForceReindex(ctx context.Context) error {
	return s.ScanAndIndex(ctx, true)
}

// Progress 进度快照
func (s *Service) Progress() ProgressSnapshot {
	s.mu.Lock()
	folders := make(map[string]index.FolderStats, len(s.folderStats))
	for f, st := range s.folderStats {
		folders[f] = *st
	}
	s.mu.Unlock()

	return ProgressSnapshot{
		Files:     s.fileQueue.Stats(),
		Embedding: s.batch.GetStats(),
		Folders:   folders,
	}
}

// FileStatuses 全部文件状态记录，供状态查询接口使用
func (s *Service) FileStatuses() ([]*index.FileStatusRecord, error) {
	return s.repo.GetAllFileStatus()
}

// folderOf 返回路径所属的受监控文件夹（最长匹配）
func (s *Service) folderOf(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return longestFolder(path, s.watched)
}

// longestFolder folders 中能包含 path 的最长前缀，无匹配时返回空串。
// 文件夹可以嵌套，归属一律按最长匹配，所有计数路径用同一把尺子。
func longestFolder(path string, folders []string) string {
	best := ""
	for _, folder := range folders {
		if PathWithinFolder(path, folder) && len(folder) > len(best) {
			best = folder
		}
	}
	return best
}

// statsForLocked 返回路径所属文件夹（最长匹配）的计数器，调用方持锁
func (s *Service) statsForLocked(path string) *index.FolderStats {
	best := ""
	for folder := range s.folderStats {
		if PathWithinFolder(path, folder) && len(folder) > len(best) {
			best = folder
		}
	}
	if best == "" {
		return nil
	}
	return s.folderStats[best]
}

// rebuildFolderStats 启动时从状态记录重建文件夹计数
func (s *Service) rebuildFolderStats(records []*index.FileStatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		folder := longestFolder(r.FilePath, s.watched)
		if folder == "" {
			continue
		}
		st, ok := s.folderStats[folder]
		if !ok {
			st = &index.FolderStats{}
			s.folderStats[folder] = st
		}
		st.Total++
		if r.Status == index.StatusIndexed {
			st.Indexed++
		}
	}
}

// updateFolderTotals 扫描后刷新各文件夹的文件总数
func (s *Service) updateFolderTotals(folders, candidates []string, snapshot map[string]*index.FileStatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, folder := range folders {
		st, ok := s.folderStats[folder]
		if !ok {
			st = &index.FolderStats{}
			s.folderStats[folder] = st
		}
		st.Total = 0
		st.Indexed = 0
	}

	for _, path := range candidates {
		folder := longestFolder(path, folders)
		if folder == "" {
			continue
		}
		st, ok := s.folderStats[folder]
		if !ok {
			continue
		}
		st.Total++
		if r, ok := snapshot[path]; ok && r.Status == index.StatusIndexed {
			st.Indexed++
		}
	}
}

func (s *Service) markIndexed(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.statsForLocked(path); st != nil && st.Indexed < st.Total {
		st.Indexed++
	}
}

func (s *Service) markRemoved(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.statsForLocked(path); st != nil && st.Total > 0 {
		st.Total--
	}
}
