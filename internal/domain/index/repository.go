package index

// FileStatusRepository 文件状态记录仓库接口
// 状态表是管道的唯一持久化载体，和向量表完全分离
type FileStatusRepository interface {
	// SaveFileStatus 覆盖保存（先删后插，从不部分更新）
	SaveFileStatus(record *FileStatusRecord) error
	// GetFileStatus 按路径查询，不存在时返回 (nil, nil)
	GetFileStatus(filePath string) (*FileStatusRecord, error)
	// GetAllFileStatus 返回全部状态记录
	GetAllFileStatus() ([]*FileStatusRecord, error)
	// DeleteFileStatus 删除单条记录
	DeleteFileStatus(filePath string) error
	// DeleteByFolder 删除指定文件夹下的所有记录（边界安全的前缀匹配）
	DeleteByFolder(folder string) error
	// ClearAll 清空状态表（schema 版本不匹配时的全量重建）
	ClearAll() error
}
