package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/infrastructure/config"
)

// fakeProcess 可控的后端进程
type fakeProcess struct {
	starts   int
	stops    int
	memoryMB int
	startErr error
}

func (p *fakeProcess) Start() error {
	p.starts++
	return p.startErr
}

func (p *fakeProcess) Stop() error {
	p.stops++
	return nil
}

func (p *fakeProcess) MemoryMB() int {
	return p.memoryMB
}

// recordingListener 记录重启通知
type recordingListener struct {
	generations []int
}

func (l *recordingListener) OnEmbedderRestart(generation int) {
	l.generations = append(l.generations, generation)
}

func newTestSupervisor(p BackendProcess, maxFiles, maxMemMB int) *Supervisor {
	return NewSupervisor(p, &config.EmbeddingConfig{
		MaxFilesBeforeRestart: maxFiles,
		MemoryThresholdMB:     maxMemMB,
	})
}

func TestSupervisor_StartTransitionsToReady(t *testing.T) {
	proc := &fakeProcess{}
	sup := newTestSupervisor(proc, 0, 0)

	assert.Equal(t, StateSpawning, sup.State())
	require.NoError(t, sup.Start())
	assert.Equal(t, StateReady, sup.State())
	assert.Equal(t, 1, proc.starts)
}

func TestSupervisor_RestartAfterFileThreshold(t *testing.T) {
	proc := &fakeProcess{}
	sup := newTestSupervisor(proc, 3, 0)
	listener := &recordingListener{}
	sup.AddRestartListener(listener)

	require.NoError(t, sup.Start())

	sup.FileProcessed()
	sup.FileProcessed()
	assert.Equal(t, 0, proc.stops, "below threshold must not restart")

	sup.FileProcessed()
	assert.Equal(t, 1, proc.stops)
	assert.Equal(t, 2, proc.starts)
	assert.Equal(t, StateReady, sup.State())
	assert.Equal(t, 1, sup.Generation())

	// 重启必须通知观察者重新入队在途批次
	require.Len(t, listener.generations, 1)
	assert.Equal(t, 1, listener.generations[0])
}

func TestSupervisor_RestartOnMemoryThreshold(t *testing.T) {
	proc := &fakeProcess{memoryMB: 4096}
	sup := newTestSupervisor(proc, 0, 2048)

	require.NoError(t, sup.Start())
	sup.FileProcessed()

	assert.Equal(t, 1, proc.stops)
	assert.Equal(t, StateReady, sup.State())
}

func TestSupervisor_CounterResetsAfterRestart(t *testing.T) {
	proc := &fakeProcess{}
	sup := newTestSupervisor(proc, 2, 0)

	require.NoError(t, sup.Start())
	sup.FileProcessed()
	sup.FileProcessed()
	require.Equal(t, 1, sup.Generation())

	// 计数器清零，下一个文件不会立即再触发重启
	sup.FileProcessed()
	assert.Equal(t, 1, sup.Generation())
}

func TestSupervisor_Shutdown(t *testing.T) {
	proc := &fakeProcess{}
	sup := newTestSupervisor(proc, 0, 0)

	require.NoError(t, sup.Start())
	require.NoError(t, sup.Shutdown())
	assert.Equal(t, StateShutdown, sup.State())
	assert.Equal(t, 1, proc.stops)

	// 已关停后的重启请求被拒绝
	assert.Error(t, sup.Restart())
}
