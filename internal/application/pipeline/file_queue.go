package pipeline

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// FileHandler 处理单个文件：解析、切片、入队并等待向量化完成
type FileHandler func(path string) error

// MemorySampler 返回当前常驻内存（MB）
type MemorySampler func() int

// BackpressureSampler 返回向量化队列是否处于背压状态
type BackpressureSampler func() bool

// FileQueueStats 文件队列进度快照
type FileQueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// FileQueue 受限并发文件队列。
// 限制同时解析/切片的文件数，根据内存压力降级并发上限，
// 根据向量化队列背压暂停取新文件。同一路径任意时刻至多一个在处理。
type FileQueue struct {
	mu        sync.Mutex
	pending   []string
	inFlight  map[string]bool
	completed int
	failed    int
	paused    bool

	nominalCap   int
	throttledCap int
	memThreshold int
	throttledNow bool
	tick         time.Duration

	// onThrottleChange 仅在降级状态实际翻转时调用
	onThrottleChange func(throttled bool)

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewFileQueue 创建文件队列
func NewFileQueue(cfg *config.PipelineConfig) *FileQueue {
	return &FileQueue{
		inFlight:     make(map[string]bool),
		nominalCap:   cfg.MaxConcurrentFiles,
		throttledCap: cfg.ThrottledConcurrentFiles,
		memThreshold: cfg.MemoryThresholdMB,
		tick:         cfg.DispatchTick,
		logger:       log.NewModuleLogger("pipeline", "file_queue"),
	}
}

// SetThrottleCallback 注册降级状态变化回调
func (q *FileQueue) SetThrottleCallback(fn func(throttled bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onThrottleChange = fn
}

// Add 追加路径到队尾。不去重，重复路径在调度时处理。
func (q *FileQueue) Add(paths ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, paths...)
}

// Remove 从待处理队列移除路径，对已在处理的工作无影响
func (q *FileQueue) Remove(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == path {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Pause 暂停新调度，已在处理的工作正常完成
func (q *FileQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume 恢复调度
func (q *FileQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Stats 当前进度快照
func (q *FileQueue) Stats() FileQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return FileQueueStats{
		Queued:     len(q.pending),
		Processing: len(q.inFlight),
		Completed:  q.completed,
		Failed:     q.failed,
	}
}

// Idle 队列为空且无在处理文件
func (q *FileQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.inFlight) == 0
}

// Process 驱动循环：按固定节拍调度，队列排空且无在处理文件后返回。
// ctx 取消时停止调度、等待在处理的工作收尾后返回 ctx 错误。
func (q *FileQueue) Process(ctx context.Context, handler FileHandler, mem MemorySampler, backpressure BackpressureSampler) error {
	return q.run(ctx, handler, mem, backpressure, true)
}

// Run 常驻驱动循环：队列排空后继续等待新工作，仅在 ctx 取消时返回
func (q *FileQueue) Run(ctx context.Context, handler FileHandler, mem MemorySampler, backpressure BackpressureSampler) error {
	return q.run(ctx, handler, mem, backpressure, false)
}

func (q *FileQueue) run(ctx context.Context, handler FileHandler, mem MemorySampler, backpressure BackpressureSampler, drainAndExit bool) error {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		q.mu.Lock()
		if q.paused {
			q.mu.Unlock()
			continue
		}

		q.adjustCapLocked(mem)
		limit := q.effectiveCapLocked()

		for len(q.inFlight) < limit && len(q.pending) > 0 {
			if backpressure != nil && backpressure() {
				break
			}

			path := q.pending[0]
			q.pending = q.pending[1:]

			// 同一路径至多一个在处理：挪到队尾，本轮停止填充
			if q.inFlight[path] {
				q.pending = append(q.pending, path)
				break
			}

			q.inFlight[path] = true
			q.wg.Add(1)
			go q.runHandler(path, handler)
		}

		done := drainAndExit && len(q.pending) == 0 && len(q.inFlight) == 0
		q.mu.Unlock()

		if done {
			q.wg.Wait()
			return nil
		}
	}
}

// runHandler 执行单文件处理并记账。
// 单文件失败只计数和记日志，从不中断调度循环。
func (q *FileQueue) runHandler(path string, handler FileHandler) {
	defer q.wg.Done()

	err := handler(path)

	q.mu.Lock()
	delete(q.inFlight, path)
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("file processing failed", "path", path, "error", err)
	}
}

// adjustCapLocked 按内存压力切换并发上限，仅在状态翻转时触发回调
func (q *FileQueue) adjustCapLocked(mem MemorySampler) {
	if mem == nil {
		return
	}

	throttled := mem() > q.memThreshold
	if throttled == q.throttledNow {
		return
	}
	q.throttledNow = throttled

	if throttled {
		q.logger.Info("memory pressure, throttling concurrency",
			"cap", q.throttledCap, "threshold_mb", q.memThreshold)
	} else {
		q.logger.Info("memory pressure relieved, restoring concurrency",
			"cap", q.nominalCap)
	}

	if q.onThrottleChange != nil {
		go q.onThrottleChange(throttled)
	}
}

func (q *FileQueue) effectiveCapLocked() int {
	if q.throttledNow {
		return q.throttledCap
	}
	return q.nominalCap
}
