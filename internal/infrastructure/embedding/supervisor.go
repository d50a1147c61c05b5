package embedding

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/foldex/backend/internal/infrastructure/config"
	applog "github.com/foldex/backend/internal/infrastructure/log"
)

// State 后端进程状态
type State string

// 状态常量
const (
	StateSpawning     State = "spawning"
	StateReady        State = "ready"
	StateRestarting   State = "restarting"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
)

// BackendProcess 后端进程生命周期原语
// 安装、模型下载、健康端点的实现都在进程内部，这里只消费启停能力
type BackendProcess interface {
	// Start 启动进程并等待就绪
	Start() error
	// Stop 停止进程
	Stop() error
	// MemoryMB 常驻内存估算（MB），无法获取时返回 0
	MemoryMB() int
}

// RestartListener 重启观察者
// 重启发生时在途批次必须被重新入队，不能被静默丢弃
type RestartListener interface {
	OnEmbedderRestart(generation int)
}

// Supervisor 后端进程监督器
// 显式状态机：Spawning → Ready → Restarting → ShuttingDown → Shutdown。
// 周期性重启用来限制本地运行时的内存无界增长
type Supervisor struct {
	process   BackendProcess
	maxFiles  int
	maxMemMB  int
	logger    *slog.Logger

	mu             sync.Mutex
	state          State
	generation     int
	filesProcessed int
	listeners      []RestartListener
}

// NewSupervisor 创建监督器
func NewSupervisor(process BackendProcess, cfg *config.EmbeddingConfig) *Supervisor {
	return &Supervisor{
		process:  process,
		maxFiles: cfg.MaxFilesBeforeRestart,
		maxMemMB: cfg.MemoryThresholdMB,
		state:    StateSpawning,
		logger:   applog.NewModuleLogger("embedding", "supervisor"),
	}
}

// AddRestartListener 注册重启观察者
func (s *Supervisor) AddRestartListener(l RestartListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// State 当前状态
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation 当前后端代数，每次重启递增
func (s *Supervisor) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Start 启动后端进程
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpawning && s.state != StateShutdown {
		return fmt.Errorf("cannot start from state %s", s.state)
	}

	s.state = StateSpawning
	if err := s.process.Start(); err != nil {
		return fmt.Errorf("failed to start embedding backend: %w", err)
	}

	s.state = StateReady
	s.logger.Info("Embedding backend ready", "generation", s.generation)
	return nil
}

// FileProcessed 记录一个文件处理完成
// 达到重启阈值时触发周期性重启
func (s *Supervisor) FileProcessed() {
	s.mu.Lock()
	s.filesProcessed++
	needsRestart := s.state == StateReady && s.exceedsThresholdLocked()
	s.mu.Unlock()

	if needsRestart {
		if err := s.Restart(); err != nil {
			s.logger.Error("Scheduled backend restart failed", "error", err)
		}
	}
}

// exceedsThresholdLocked 检查是否超过重启阈值（需持锁）
func (s *Supervisor) exceedsThresholdLocked() bool {
	if s.maxFiles > 0 && s.filesProcessed >= s.maxFiles {
		return true
	}
	if s.maxMemMB > 0 && s.process.MemoryMB() > s.maxMemMB {
		return true
	}
	return false
}

// Restart 重启后端进程
// 先通知观察者把在途批次重新入队，再重新进入 Ready
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return fmt.Errorf("cannot restart from state %s", s.state)
	}
	s.state = StateRestarting
	s.generation++
	generation := s.generation
	listeners := make([]RestartListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("Restarting embedding backend",
		"generation", generation,
		"files_processed", s.filesProcessed,
	)

	// 重新入队必须发生在新请求可达后端之前
	for _, l := range listeners {
		l.OnEmbedderRestart(generation)
	}

	if err := s.process.Stop(); err != nil {
		s.logger.Warn("Failed to stop backend cleanly", "error", err)
	}
	if err := s.process.Start(); err != nil {
		s.mu.Lock()
		s.state = StateShutdown
		s.mu.Unlock()
		return fmt.Errorf("failed to respawn embedding backend: %w", err)
	}

	s.mu.Lock()
	s.filesProcessed = 0
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Embedding backend restarted", "generation", generation)
	return nil
}

// Shutdown 关停后端进程
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.state == StateShutdown {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	err := s.process.Stop()

	s.mu.Lock()
	s.state = StateShutdown
	s.mu.Unlock()

	return err
}

// RuntimeMemoryMB 当前进程的堆内存估算（MB）
// 作为 BackendProcess.MemoryMB 无法取数时的默认采样器
func RuntimeMemoryMB() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int(ms.HeapAlloc / (1024 * 1024))
}
