package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/foldex/backend/internal/domain/events"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// FileWatcher 受监控文件夹的文件系统监听器。
// 递归监听各文件夹，按扩展名和排除规则过滤，
// 对同一路径的连续写入做防抖，发布 WatchedFileEvent。
type FileWatcher struct {
	watchCfg *config.WatchConfig
	pipeCfg  *config.PipelineConfig
	eventBus events.EventBus
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	folders []string

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewFileWatcher 创建文件监听器
func NewFileWatcher(watchCfg *config.WatchConfig, pipeCfg *config.PipelineConfig, eventBus events.EventBus) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watchCfg:       watchCfg,
		pipeCfg:        pipeCfg,
		eventBus:       eventBus,
		watcher:        watcher,
		logger:         log.NewModuleLogger("watcher", "file_watcher"),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start 开始监听给定文件夹，并订阅监控集合变更以自行调整监听范围
func (fw *FileWatcher) Start(folders []string) error {
	fw.logger.Info("starting file watcher", "folders", len(folders))

	if err := fw.SetFolders(folders); err != nil {
		return err
	}

	fw.unsubscribe = fw.eventBus.Subscribe(events.WatchSetChanged,
		events.HandlerFunc(func(event events.Event) error {
			if e, ok := event.(*events.WatchSetEvent); ok {
				return fw.SetFolders(e.Folders)
			}
			return nil
		}))

	fw.wg.Add(1)
	go fw.watchLoop()
	return nil
}

// Stop 停止监听
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		if fw.unsubscribe != nil {
			fw.unsubscribe()
		}
		close(fw.stopCh)
		fw.watcher.Close()
		fw.wg.Wait()

		fw.debounceMu.Lock()
		for _, timer := range fw.debounceTimers {
			timer.Stop()
		}
		fw.debounceMu.Unlock()

		fw.logger.Info("file watcher stopped")
	})
}

// SetFolders 替换受监控文件夹集合，增删底层监听
func (fw *FileWatcher) SetFolders(folders []string) error {
	fw.mu.Lock()
	old := fw.folders
	fw.folders = append([]string{}, folders...)
	fw.mu.Unlock()

	watched := make(map[string]bool, len(folders))
	for _, f := range folders {
		watched[f] = true
	}

	for _, f := range old {
		if !watched[f] {
			fw.removeDirRecursive(f)
		}
	}

	was := make(map[string]bool, len(old))
	for _, f := range old {
		was[f] = true
	}
	for _, f := range folders {
		if !was[f] {
			if err := fw.addDirRecursive(f); err != nil {
				fw.logger.Warn("failed to watch folder", "folder", f, "error", err)
			}
		}
	}
	return nil
}

// addDirRecursive 递归监听目录树。
// fsnotify 不支持递归监听，必须逐目录添加。
func (fw *FileWatcher) addDirRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 无权限或已消失的目录直接跳过
		}
		if !info.IsDir() {
			return nil
		}
		if fw.isExcluded(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Debug("failed to add directory to watch", "path", path, "error", err)
		}
		return nil
	})
}

// removeDirRecursive 取消目录树监听
func (fw *FileWatcher) removeDirRecursive(dir string) {
	for _, watched := range fw.watcher.WatchList() {
		if watched == dir || strings.HasPrefix(watched, dir+string(os.PathSeparator)) {
			fw.watcher.Remove(watched)
		}
	}
}

// watchLoop 事件消费循环
func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.stopCh:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent 处理单条文件系统事件
func (fw *FileWatcher) handleFsEvent(event fsnotify.Event) {
	if fw.isExcluded(event.Name) {
		return
	}

	// 新建目录纳入监听，否则其中的文件事件全部丢失
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addDirRecursive(event.Name); err != nil {
				fw.logger.Debug("failed to watch new directory", "path", event.Name)
			}
			return
		}
	}

	if !fw.isSupportedFile(event.Name) {
		return
	}

	// 删除和改名立即发布，写入走防抖
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		fw.cancelDebounce(event.Name)
		fw.emitFileEvent(event.Name, events.WatchedFileDeleted)
		return
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		fw.debounce(event)
	}
}

// debounce 同一路径的连续写入合并为一次事件
func (fw *FileWatcher) debounce(fsEvent fsnotify.Event) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, exists := fw.debounceTimers[fsEvent.Name]; exists {
		timer.Stop()
	}

	fw.debounceTimers[fsEvent.Name] = time.AfterFunc(fw.watchCfg.DebounceDelay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, fsEvent.Name)
		fw.debounceMu.Unlock()

		eventType := events.WatchedFileModified
		if fsEvent.Has(fsnotify.Create) {
			eventType = events.WatchedFileCreated
		}
		fw.emitFileEvent(fsEvent.Name, eventType)
	})
}

func (fw *FileWatcher) cancelDebounce(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()
	if timer, exists := fw.debounceTimers[path]; exists {
		timer.Stop()
		delete(fw.debounceTimers, path)
	}
}

// emitFileEvent 发布文件变更事件
func (fw *FileWatcher) emitFileEvent(path string, eventType events.EventType) {
	var modTime time.Time
	var fileSize int64
	if info, err := os.Stat(path); err == nil {
		if eventType == events.WatchedFileDeleted {
			// 路径仍存在说明是改名落地或误报，按修改处理
			eventType = events.WatchedFileModified
		}
		modTime = info.ModTime()
		fileSize = info.Size()
	} else if eventType != events.WatchedFileDeleted {
		// 文件在防抖窗口内消失
		eventType = events.WatchedFileDeleted
	}

	fw.eventBus.Publish(&events.WatchedFileEvent{
		EventType: eventType,
		FilePath:  path,
		Folder:    fw.folderOf(path),
		ModTime:   modTime,
		FileSize:  fileSize,
		EventTime: time.Now(),
	})

	fw.logger.Debug("file event emitted", "type", eventType, "path", path)
}

func (fw *FileWatcher) isSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return fw.pipeCfg.FileTypes[ext]
}

func (fw *FileWatcher) isExcluded(path string) bool {
	for _, pattern := range fw.pipeCfg.ExcludePatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) folderOf(path string) string {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	best := ""
	for _, folder := range fw.folders {
		prefix := strings.TrimRight(folder, "/") + string(os.PathSeparator)
		if strings.HasPrefix(path, prefix) && len(folder) > len(best) {
			best = folder
		}
	}
	return best
}
