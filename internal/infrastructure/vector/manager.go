package vector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// Manager 管理内嵌 Qdrant 进程的生命周期与集合
type Manager struct {
	binaryPath string
	dataPath   string
	grpcPort   int
	httpPort   int
	collection string
	cmd        *exec.Cmd
	client     *qdrant.Client
	logger     *slog.Logger
}

// NewManager 创建 Qdrant 管理器
func NewManager(cfg *config.QdrantConfig) *Manager {
	return &Manager{
		binaryPath: cfg.BinaryPath,
		dataPath:   cfg.DataPath,
		grpcPort:   cfg.GRPCPort,
		httpPort:   cfg.HTTPPort,
		collection: cfg.Collection,
		logger:     log.NewModuleLogger("vector", "manager"),
	}
}

// Collection 返回当前使用的集合名
func (m *Manager) Collection() string {
	return m.collection
}

// Start 启动 Qdrant 服务并建立客户端连接
func (m *Manager) Start() error {
	if err := os.MkdirAll(m.dataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	binaryPath, err := EnsureBinary(context.Background(), m.binaryPath)
	if err != nil {
		return err
	}
	m.binaryPath = binaryPath

	args := []string{
		"--config-path", "/dev/null",
		"--storage-path", m.dataPath,
		"--grpc-port", fmt.Sprintf("%d", m.grpcPort),
		"--http-port", fmt.Sprintf("%d", m.httpPort),
	}

	m.cmd = exec.Command(m.binaryPath, args...)
	m.cmd.Stdout = os.Stdout
	m.cmd.Stderr = os.Stderr

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start qdrant: %w", err)
	}

	m.logger.Info("qdrant process started", "pid", m.cmd.Process.Pid, "grpc_port", m.grpcPort)

	if err := m.waitForReady(15 * time.Second); err != nil {
		m.Stop()
		return fmt.Errorf("qdrant failed to become ready: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: "localhost",
		Port: m.grpcPort,
	})
	if err != nil {
		m.Stop()
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	m.client = client
	return nil
}

// Stop 停止 Qdrant 进程并关闭客户端连接
func (m *Manager) Stop() error {
	if m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill qdrant process: %w", err)
		}
		m.cmd.Wait()
		m.cmd = nil
	}

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	return nil
}

// GetClient 获取 Qdrant 客户端
func (m *Manager) GetClient() *qdrant.Client {
	return m.client
}

// waitForReady 轮询等待 Qdrant 就绪
func (m *Manager) waitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host: "localhost",
			Port: m.grpcPort,
		})
		if err == nil {
			_, err = client.ListCollections(context.Background())
			if err == nil {
				client.Close()
				return nil
			}
			client.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for qdrant to be ready")
}

// EnsureCollection 确保块集合存在，不存在时按给定向量维度创建
func (m *Manager) EnsureCollection(vectorSize uint64) error {
	if m.client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	ctx := context.Background()
	existing, err := m.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range existing {
		if name == m.collection {
			return nil
		}
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", m.collection, err)
	}

	m.logger.Info("collection created", "collection", m.collection, "vector_size", vectorSize)
	return nil
}

// RecreateCollection 删除并重建集合。
// 在 SQLite 状态库因 schema 变更被清空后调用，保持两边数据一致。
func (m *Manager) RecreateCollection(vectorSize uint64) error {
	if m.client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	ctx := context.Background()
	if err := m.client.DeleteCollection(ctx, m.collection); err != nil {
		m.logger.Warn("failed to delete collection, continuing", "collection", m.collection, "error", err)
	}

	err := m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to recreate collection %s: %w", m.collection, err)
	}

	m.logger.Info("collection recreated", "collection", m.collection)
	return nil
}
