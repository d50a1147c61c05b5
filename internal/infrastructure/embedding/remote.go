package embedding

// RemoteBackend 外部托管的 Embedding 后端
// 进程生命周期不归我们管（如本机 Ollama 或远端 API），
// Start 只做连通性探测，Stop 是空操作
type RemoteBackend struct {
	client *Client
}

// NewRemoteBackend 创建远端后端包装
func NewRemoteBackend(client *Client) *RemoteBackend {
	return &RemoteBackend{client: client}
}

// Start 实现 BackendProcess 接口
func (b *RemoteBackend) Start() error {
	return b.client.TestConnection()
}

// Stop 实现 BackendProcess 接口
func (b *RemoteBackend) Stop() error {
	return nil
}

// MemoryMB 实现 BackendProcess 接口
// 远端进程内存不可见，返回 0 禁用内存阈值重启
func (b *RemoteBackend) MemoryMB() int {
	return 0
}
