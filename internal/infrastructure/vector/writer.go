package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// PointRecord 一条待写入向量存储的行
type PointRecord struct {
	FilePath  string
	Folder    string
	Page      int
	Offset    int
	Text      string
	Vector    []float32
	IndexedAt int64
}

// PointID 基于 路径|页码|偏移 生成确定性点 ID。
// 同一行重复写入得到同一 ID，写入天然幂等。
func PointID(filePath string, page, offset int) string {
	key := fmt.Sprintf("%s|%d|%d", filePath, page, offset)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// PointStore 向量存储的最小操作面
type PointStore interface {
	Upsert(ctx context.Context, points []PointRecord) error
	DeleteByPath(ctx context.Context, filePath string) error
	DeleteByFolder(ctx context.Context, folder string) error
	Count(ctx context.Context) (uint64, error)
	EnsurePayloadIndexes(ctx context.Context) error
}

// conflictRetryDelay 写冲突重试前的等待时间
const conflictRetryDelay = 200 * time.Millisecond

type writeOp struct {
	name string
	run  func() error
	done chan error
}

// Writer 向量存储写入串行器。
// 所有写操作进入 FIFO 队列，由单个排空循环依次执行，
// 任意时刻最多有一个写请求在存储引擎上执行。
type Writer struct {
	store          PointStore
	indexThreshold int
	logger         *slog.Logger

	mu        sync.Mutex
	queue     []*writeOp
	isWriting bool

	indexesBuilt bool
}

// NewWriter 创建写入串行器
func NewWriter(store PointStore, cfg *config.QdrantConfig) *Writer {
	return &Writer{
		store:          store,
		indexThreshold: cfg.IndexThreshold,
		logger:         log.NewModuleLogger("vector", "writer"),
	}
}

// UpsertChunks 写入（或覆盖）一批行，阻塞直到该操作实际执行完成
func (w *Writer) UpsertChunks(ctx context.Context, points []PointRecord) error {
	if len(points) == 0 {
		return nil
	}
	err := w.enqueue("upsert", func() error {
		return w.store.Upsert(ctx, points)
	})
	if err != nil {
		return err
	}
	w.maybeBuildIndexes(ctx)
	return nil
}

// DeleteByPath 删除某个文件的全部行
func (w *Writer) DeleteByPath(ctx context.Context, filePath string) error {
	return w.enqueue("delete_path", func() error {
		return w.store.DeleteByPath(ctx, filePath)
	})
}

// DeleteByFolder 删除某个文件夹下的全部行
func (w *Writer) DeleteByFolder(ctx context.Context, folder string) error {
	return w.enqueue("delete_folder", func() error {
		return w.store.DeleteByFolder(ctx, folder)
	})
}

// QueueDepth 返回当前排队等待执行的写操作数
func (w *Writer) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if w.isWriting {
		n++
	}
	return n
}

// Drain 等待队列排空。关停时调用，ctx 控制等待上限。
func (w *Writer) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		w.mu.Lock()
		idle := len(w.queue) == 0 && !w.isWriting
		w.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("write queue not drained: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// enqueue 把操作追加到队尾并等待其完成。
// 队列为空且没有在执行的操作时启动排空循环。
func (w *Writer) enqueue(name string, run func() error) error {
	op := &writeOp{name: name, run: run, done: make(chan error, 1)}

	w.mu.Lock()
	w.queue = append(w.queue, op)
	if !w.isWriting {
		w.isWriting = true
		go w.drainLoop()
	}
	w.mu.Unlock()

	return <-op.done
}

// drainLoop 依次执行队列中的操作，队列空后退出
func (w *Writer) drainLoop() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.isWriting = false
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		op.done <- w.execute(op)
	}
}

// execute 执行单个操作，写冲突重试一次后放弃
func (w *Writer) execute(op *writeOp) error {
	err := op.run()
	if err == nil {
		return nil
	}
	if !index.IsStorageConflict(err) {
		w.logger.Error("write operation failed", "op", op.name, "error", err)
		return err
	}

	w.logger.Warn("write conflict, retrying once", "op", op.name)
	time.Sleep(conflictRetryDelay)
	if err := op.run(); err != nil {
		w.logger.Error("write operation failed after conflict retry", "op", op.name, "error", err)
		return err
	}
	return nil
}

// maybeBuildIndexes 行数超过阈值后创建 payload 索引，尽力而为。
// 失败只记日志，不影响写入结果。
func (w *Writer) maybeBuildIndexes(ctx context.Context) {
	w.mu.Lock()
	built := w.indexesBuilt
	w.mu.Unlock()
	if built || w.indexThreshold <= 0 {
		return
	}

	count, err := w.store.Count(ctx)
	if err != nil {
		w.logger.Debug("failed to count points", "error", err)
		return
	}
	if count <= uint64(w.indexThreshold) {
		return
	}

	err = w.enqueue("build_indexes", func() error {
		return w.store.EnsurePayloadIndexes(ctx)
	})
	if err != nil {
		w.logger.Warn("failed to build payload indexes", "error", err)
		return
	}

	w.mu.Lock()
	w.indexesBuilt = true
	w.mu.Unlock()
	w.logger.Info("payload indexes built", "point_count", count)
}
