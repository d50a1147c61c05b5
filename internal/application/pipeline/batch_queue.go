package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// ErrQueueClosed 队列已关闭，不再接受新切片
var ErrQueueClosed = errors.New("batch queue closed")

// Embedder 向量化后端的最小接口
type Embedder interface {
	EmbedTexts(texts []string, isQuery bool) ([][]float32, error)
}

// BatchItem 批次中的一个切片，保留所属文件信息。
// 一个批次可以混合多个文件的切片，下游写入按条目归属，
// 绝不假设整批切片来自同一文件。
type BatchItem struct {
	Chunk     index.Chunk
	FilePath  string
	FileIndex int
}

// BatchProcessor 把 {切片, 向量} 对转成存储行并交给写串行器
type BatchProcessor func(items []BatchItem, vectors [][]float32) error

// FileTracker 在处理文件的切片完成计数。
// 第一个切片入队时创建，是"文件向量化完毕"的同步点。
type FileTracker struct {
	TotalChunks     int
	ProcessedChunks int
	FailedChunks    int
	StartTime       time.Time
	lastErr         error
}

// BatchStats 向量化队列状态快照
type BatchStats struct {
	QueueDepth         int  `json:"queue_depth"`
	ProcessingBatches  int  `json:"processing_batches"`
	IsProcessing       bool `json:"is_processing"`
	TrackedFiles       int  `json:"tracked_files"`
	BackpressureActive bool `json:"backpressure_active"`
}

type queuedChunk struct {
	chunk     index.Chunk
	filePath  string
	fileIndex int
}

// BatchQueue 向量化批量队列。
// 把各文件的切片流聚成受 token 限额约束的批次，驱动向量化与存储写入，
// 对上游暴露按文件的完成屏障和整体背压信号。
type BatchQueue struct {
	maxQueueSize          int
	batchSize             int
	maxTokensPerBatch     int
	backpressureThreshold int

	embedder  Embedder
	estimator embedding.TokenEstimator
	processor BatchProcessor

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queuedChunk
	trackers map[string]*FileTracker
	closed   bool

	// inFlightBatch 正在向量化的批次，后端重启时原样回插队首
	inFlightBatch []queuedChunk
	generation    int
	processing    bool

	logger *slog.Logger
}

// NewBatchQueue 创建向量化批量队列
func NewBatchQueue(embedder Embedder, estimator embedding.TokenEstimator, cfg *config.PipelineConfig) *BatchQueue {
	q := &BatchQueue{
		maxQueueSize:          cfg.MaxQueueSize,
		batchSize:             cfg.BatchSize,
		maxTokensPerBatch:     cfg.MaxTokensPerBatch,
		backpressureThreshold: cfg.BackpressureThreshold,
		embedder:              embedder,
		estimator:             estimator,
		trackers:              make(map[string]*FileTracker),
		logger:                log.NewModuleLogger("pipeline", "batch_queue"),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetProcessor 注册批次处理器
func (q *BatchQueue) SetProcessor(p BatchProcessor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// AddChunks 把一个文件的切片加入队列。
// 队列满时阻塞等待（而不是丢弃），调用方是文件队列的 handler，
// 阻塞天然构成上游的第二道背压。
// 切片数超过队列容量的大文件按剩余空间分段写入，
// 段与段之间等待消费腾出空间，单文件再大也不会卡死。
func (q *BatchQueue) AddChunks(chunks []index.Chunk, filePath string, fileIndex int) error {
	if len(chunks) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(chunks) > 0 {
		for len(q.queue) >= q.maxQueueSize {
			if q.closed {
				return ErrQueueClosed
			}
			q.cond.Wait()
		}
		if q.closed {
			return ErrQueueClosed
		}

		room := q.maxQueueSize - len(q.queue)
		if room > len(chunks) {
			room = len(chunks)
		}

		tracker, ok := q.trackers[filePath]
		if !ok {
			tracker = &FileTracker{StartTime: time.Now()}
			q.trackers[filePath] = tracker
		}
		tracker.TotalChunks += room

		for _, c := range chunks[:room] {
			q.queue = append(q.queue, queuedChunk{chunk: c, filePath: filePath, fileIndex: fileIndex})
		}
		chunks = chunks[room:]
		q.cond.Broadcast()
	}
	return nil
}

// Run 批次处理循环。单协程驱动，ctx 取消后排空在手批次并返回。
func (q *BatchQueue) Run(ctx context.Context) {
	// ctx 取消时唤醒可能在等待的循环
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed && ctx.Err() == nil {
			q.cond.Wait()
		}
		if (q.closed || ctx.Err() != nil) && len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}

		batch, gen := q.takeBatchLocked()
		q.processing = true
		q.mu.Unlock()

		q.executeBatch(batch, gen)

		q.mu.Lock()
		q.processing = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// takeBatchLocked 按 FIFO 取下一批：数量和估算 token 双上限，先到先止。
// 单个超限切片独占一批，保证队列始终能前进。
func (q *BatchQueue) takeBatchLocked() ([]queuedChunk, int) {
	var batch []queuedChunk
	tokens := 0

	for len(q.queue) > 0 && len(batch) < q.batchSize {
		next := q.queue[0]
		cost := q.estimator.EstimateTokens(next.chunk.Text)
		if len(batch) > 0 && tokens+cost > q.maxTokensPerBatch {
			break
		}
		batch = append(batch, next)
		tokens += cost
		q.queue = q.queue[1:]
	}

	q.inFlightBatch = batch
	q.cond.Broadcast() // 队列腾出空间，唤醒阻塞的 AddChunks
	return batch, q.generation
}

// executeBatch 向量化一个批次并写入存储。
// 失败的批次同样计入各文件的已处理数，完成屏障不会因失败而悬挂；
// 错误记录在文件的 tracker 上，由 WaitForCompletion 返回给调用方。
func (q *BatchQueue) executeBatch(batch []queuedChunk, gen int) {
	if len(batch) == 0 {
		return
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.chunk.Text
	}

	vectors, err := q.embedder.EmbedTexts(texts, false)

	q.mu.Lock()
	if gen != q.generation {
		// 后端在请求期间重启，批次已被回插队列，结果作废
		q.mu.Unlock()
		q.logger.Info("discarding batch result from restarted backend", "chunks", len(batch))
		return
	}
	q.inFlightBatch = nil
	q.mu.Unlock()

	if err == nil && len(vectors) != len(batch) {
		err = &index.EmbeddingError{Err: errors.New("vector count mismatch"), Transient: false}
	}

	if err == nil && q.processor != nil {
		items := make([]BatchItem, len(batch))
		for i, c := range batch {
			items[i] = BatchItem{Chunk: c.chunk, FilePath: c.filePath, FileIndex: c.fileIndex}
		}
		err = q.processor(items, vectors)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range batch {
		tracker, ok := q.trackers[c.filePath]
		if !ok {
			continue
		}
		tracker.ProcessedChunks++
		if err != nil {
			tracker.FailedChunks++
			tracker.lastErr = err
		}
	}
	q.cond.Broadcast()

	if err != nil {
		q.logger.Warn("batch failed", "chunks", len(batch), "error", err)
	}
}

// WaitForCompletion 阻塞直到该文件的全部切片被计数（无论成败）。
// 返回批次执行期间记录在该文件上的最后一个错误。
func (q *BatchQueue) WaitForCompletion(filePath string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tracker, ok := q.trackers[filePath]
	if !ok {
		return nil
	}

	for tracker.ProcessedChunks < tracker.TotalChunks && !q.closed {
		q.cond.Wait()
	}
	return tracker.lastErr
}

// CleanupFileTracker 释放文件的完成计数器。
// 必须在 handler 的 defer 中调用，异常路径也不能泄漏 tracker。
func (q *BatchQueue) CleanupFileTracker(filePath string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.trackers, filePath)
}

// Tracker 返回文件 tracker 的快照
func (q *BatchQueue) Tracker(filePath string) (FileTracker, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.trackers[filePath]
	if !ok {
		return FileTracker{}, false
	}
	return *t, true
}

// ShouldApplyBackpressure 队列深度超过阈值。
// 文件队列读到 true 时停止取新文件，在处理的文件不受影响。
func (q *BatchQueue) ShouldApplyBackpressure() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) > q.backpressureThreshold
}

// GetStats 队列状态快照
func (q *BatchQueue) GetStats() BatchStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	processingBatches := 0
	if len(q.inFlightBatch) > 0 {
		processingBatches = 1
	}
	return BatchStats{
		QueueDepth:         len(q.queue),
		ProcessingBatches:  processingBatches,
		IsProcessing:       q.processing,
		TrackedFiles:       len(q.trackers),
		BackpressureActive: len(q.queue) > q.backpressureThreshold,
	}
}

// OnEmbedderRestart 后端重启通知。
// 在手批次的切片回插队首而不是丢弃，保证至少一次交付；
// 重复交付是安全的，存储行按确定性 ID 覆盖写入。
func (q *BatchQueue) OnEmbedderRestart(generation int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.generation = generation
	if len(q.inFlightBatch) == 0 {
		return
	}

	requeued := len(q.inFlightBatch)
	q.queue = append(append([]queuedChunk{}, q.inFlightBatch...), q.queue...)
	q.inFlightBatch = nil
	q.cond.Broadcast()

	q.logger.Info("requeued in-flight chunks after backend restart",
		"chunks", requeued, "generation", generation)
}

// Drain 等待队列排空且无在执行批次，ctx 控制等待上限
func (q *BatchQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.queue) == 0 && !q.processing
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭队列：拒绝新切片，唤醒所有等待者
func (q *BatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
