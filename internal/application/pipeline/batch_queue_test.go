package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/embedding"
)

// fakeEmbedder 记录收到的批次
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	errs    []error // 依次返回，用尽后成功
	delay   time.Duration
	block   chan struct{} // 非 nil 时第一次调用阻塞直到关闭
	blocked sync.Once
}

func (f *fakeEmbedder) EmbedTexts(texts []string, isQuery bool) ([][]float32, error) {
	if f.block != nil {
		var wait bool
		f.blocked.Do(func() { wait = true })
		if wait {
			<-f.block
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

func (f *fakeEmbedder) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func testBatchConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		MaxQueueSize:          100,
		BatchSize:             5,
		MaxTokensPerBatch:     8000,
		BackpressureThreshold: 10,
	}
}

func makeChunks(n int, text string) []index.Chunk {
	chunks := make([]index.Chunk, n)
	for i := range chunks {
		chunks[i] = index.Chunk{Text: text, Offset: i * len(text)}
	}
	return chunks
}

func startQueue(t *testing.T, q *BatchQueue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		q.Close()
		cancel()
		<-done
	})
	return cancel
}

func TestBatchQueue_SplitsByBatchSize(t *testing.T) {
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())
	startQueue(t, q)

	// 12 个切片、批大小 5 → 5, 5, 2
	require.NoError(t, q.AddChunks(makeChunks(12, "hello world"), "/docs/f.txt", 0))
	require.NoError(t, q.WaitForCompletion("/docs/f.txt"))
	q.CleanupFileTracker("/docs/f.txt")

	assert.Equal(t, []int{5, 5, 2}, emb.batchSizes())
}

func TestBatchQueue_TokenBudgetClosesBatch(t *testing.T) {
	cfg := testBatchConfig()
	cfg.BatchSize = 100
	cfg.MaxTokensPerBatch = 100 // chars/2.5：每个 100 字符切片 ≈ 40 token
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)
	startQueue(t, q)

	text := make([]byte, 100)
	for i := range text {
		text[i] = 'x'
	}
	require.NoError(t, q.AddChunks(makeChunks(5, string(text)), "/docs/f.txt", 0))
	require.NoError(t, q.WaitForCompletion("/docs/f.txt"))

	est := embedding.HeuristicEstimator{}
	for _, batch := range emb.batches {
		tokens := 0
		for _, text := range batch {
			tokens += est.EstimateTokens(text)
		}
		assert.LessOrEqual(t, tokens, cfg.MaxTokensPerBatch,
			"no batch may exceed the token budget")
	}
	assert.Greater(t, len(emb.batches), 1, "token budget must split the batch")
}

func TestBatchQueue_OversizedChunkStillProgresses(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxTokensPerBatch = 10
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)
	startQueue(t, q)

	// 单个切片就超 token 上限：独占一批，队列不能卡死
	require.NoError(t, q.AddChunks(makeChunks(2, "this text alone exceeds the tiny budget"), "/docs/big.txt", 0))
	require.NoError(t, q.WaitForCompletion("/docs/big.txt"))
	assert.Equal(t, []int{1, 1}, emb.batchSizes())
}

func TestBatchQueue_MixedFileAttribution(t *testing.T) {
	cfg := testBatchConfig()
	cfg.BatchSize = 10
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)

	var mu sync.Mutex
	perFile := map[string]int{}
	q.SetProcessor(func(items []BatchItem, vectors [][]float32) error {
		mu.Lock()
		defer mu.Unlock()
		for _, item := range items {
			perFile[item.FilePath]++
		}
		return nil
	})
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(3, "aa"), "/docs/a.txt", 0))
	require.NoError(t, q.AddChunks(makeChunks(2, "bb"), "/docs/b.txt", 1))

	require.NoError(t, q.WaitForCompletion("/docs/a.txt"))
	require.NoError(t, q.WaitForCompletion("/docs/b.txt"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, perFile["/docs/a.txt"], "each chunk keeps its own file attribution")
	assert.Equal(t, 2, perFile["/docs/b.txt"])
}

func TestBatchQueue_CompletionBarrierOnAllFailed(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{
		&index.EmbeddingError{Err: errors.New("backend gone"), Transient: false},
		&index.EmbeddingError{Err: errors.New("backend gone"), Transient: false},
		&index.EmbeddingError{Err: errors.New("backend gone"), Transient: false},
	}}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(12, "text"), "/docs/f.txt", 0))

	// 全部批次失败：屏障照样放行，错误返回给调用方
	err := q.WaitForCompletion("/docs/f.txt")
	require.Error(t, err)

	tracker, ok := q.Tracker("/docs/f.txt")
	require.True(t, ok)
	assert.Equal(t, tracker.TotalChunks, tracker.ProcessedChunks)
	assert.Equal(t, 12, tracker.FailedChunks)
}

func TestBatchQueue_ProcessorErrorPropagates(t *testing.T) {
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())
	q.SetProcessor(func(items []BatchItem, vectors [][]float32) error {
		return &index.StorageError{Err: errors.New("disk full")}
	})
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(3, "text"), "/docs/f.txt", 0))
	err := q.WaitForCompletion("/docs/f.txt")

	var se *index.StorageError
	require.ErrorAs(t, err, &se)
}

func TestBatchQueue_CleanupReleasesTracker(t *testing.T) {
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(1, "text"), "/docs/f.txt", 0))
	require.NoError(t, q.WaitForCompletion("/docs/f.txt"))

	q.CleanupFileTracker("/docs/f.txt")
	_, ok := q.Tracker("/docs/f.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, q.GetStats().TrackedFiles)
}

func TestBatchQueue_Backpressure(t *testing.T) {
	cfg := testBatchConfig()
	cfg.BackpressureThreshold = 3
	cfg.MaxQueueSize = 100

	emb := &fakeEmbedder{block: make(chan struct{})}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(10, "text"), "/docs/f.txt", 0))
	time.Sleep(20 * time.Millisecond) // 第一批被取走后剩余 5 个仍超阈值

	assert.True(t, q.ShouldApplyBackpressure())
	assert.True(t, q.GetStats().BackpressureActive)

	close(emb.block)
	require.NoError(t, q.WaitForCompletion("/docs/f.txt"))

	assert.False(t, q.ShouldApplyBackpressure())
}

func TestBatchQueue_AddChunksBlocksWhenFull(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxQueueSize = 6
	cfg.BatchSize = 2

	emb := &fakeEmbedder{delay: 5 * time.Millisecond}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)
	startQueue(t, q)

	// 超过容量的批量入队必须阻塞等待排空，而不是报错
	done := make(chan error, 1)
	go func() {
		if err := q.AddChunks(makeChunks(6, "text"), "/docs/a.txt", 0); err != nil {
			done <- err
			return
		}
		done <- q.AddChunks(makeChunks(6, "text"), "/docs/b.txt", 1)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AddChunks deadlocked on a full queue")
	}

	require.NoError(t, q.WaitForCompletion("/docs/a.txt"))
	require.NoError(t, q.WaitForCompletion("/docs/b.txt"))
}

func TestBatchQueue_FileLargerThanQueueCapacity(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxQueueSize = 10
	cfg.BatchSize = 3

	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, cfg)

	var processed int
	var mu sync.Mutex
	q.SetProcessor(func(items []BatchItem, vectors [][]float32) error {
		mu.Lock()
		processed += len(items)
		mu.Unlock()
		return nil
	})
	startQueue(t, q)

	// 单文件切片数超过队列容量：分段入队，消费腾出空间后继续，不能卡死
	done := make(chan error, 1)
	go func() {
		done <- q.AddChunks(makeChunks(25, "text"), "/docs/huge.txt", 0)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AddChunks deadlocked on a file larger than the queue capacity")
	}

	require.NoError(t, q.WaitForCompletion("/docs/huge.txt"))

	tracker, ok := q.Tracker("/docs/huge.txt")
	require.True(t, ok)
	assert.Equal(t, 25, tracker.TotalChunks)
	assert.Equal(t, 25, tracker.ProcessedChunks)
	assert.Zero(t, tracker.FailedChunks)

	mu.Lock()
	assert.Equal(t, 25, processed)
	mu.Unlock()
}

func TestBatchQueue_EmbedderRestartRequeues(t *testing.T) {
	emb := &fakeEmbedder{block: make(chan struct{})}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())
	startQueue(t, q)

	require.NoError(t, q.AddChunks(makeChunks(5, "text"), "/docs/f.txt", 0))
	time.Sleep(20 * time.Millisecond) // 批次进入向量化调用并阻塞

	// 后端重启：在手批次回插队列
	q.OnEmbedderRestart(1)
	close(emb.block)

	require.NoError(t, q.WaitForCompletion("/docs/f.txt"))

	tracker, ok := q.Tracker("/docs/f.txt")
	require.True(t, ok)
	assert.Equal(t, 5, tracker.ProcessedChunks, "requeued chunks are processed exactly once in the counters")
	assert.Zero(t, tracker.FailedChunks)
	assert.GreaterOrEqual(t, len(emb.batches), 2, "the chunks were re-embedded after the restart")
}

func TestBatchQueue_StatsShape(t *testing.T) {
	emb := &fakeEmbedder{}
	q := NewBatchQueue(emb, embedding.HeuristicEstimator{}, testBatchConfig())

	stats := q.GetStats()
	assert.Equal(t, BatchStats{}, stats)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.AddChunks(makeChunks(2, "text"), fmt.Sprintf("/docs/f%d.txt", i), i))
	}
	stats = q.GetStats()
	assert.Equal(t, 6, stats.QueueDepth)
	assert.Equal(t, 3, stats.TrackedFiles)
}
