// Package index 定义文件索引领域模型
// 围绕"文件 → 切片 → 向量"这条主线的状态与计划结构
package index

import (
	"fmt"
	"os"
)

// FileStatus 文件索引状态
type FileStatus string

// 文件状态常量
const (
	StatusQueued   FileStatus = "queued"
	StatusIndexed  FileStatus = "indexed"
	StatusFailed   FileStatus = "failed"
	StatusError    FileStatus = "error"
	StatusOutdated FileStatus = "outdated"
	StatusDeleted  FileStatus = "deleted"
)

// FileStatusRecord 文件状态记录
// 每个已知文件路径最多一条，每次处理尝试整体覆盖（先删后插），从不部分更新
type FileStatusRecord struct {
	FilePath      string     // 源文件路径（主键）
	Status        FileStatus // 当前状态
	ParserVersion int        // 产出当前切片的解析器版本
	ChunkCount    int        // 生成的切片数量
	ErrorMessage  string     // 最后一次失败的错误信息
	FileHash      string     // 廉价签名：大小 + 修改时间，不是内容哈希
	LastModified  int64      // 文件修改时间（Unix 秒）
	IndexedAt     int64      // 最后成功索引时间
	LastRetry     int64      // 最后一次重试时间
}

// FileSignature 计算文件的廉价签名
// 用大小和修改时间代替内容哈希，避免扫描阶段读取文件内容
func FileSignature(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

// Chunk 文件提取文本的一个连续切片
// 仅在解析到向量化之间的内存中存在
type Chunk struct {
	Text   string // 切片文本
	Offset int    // 在提取文本中的字节偏移
	Page   int    // 页码（分页文档），无分页时为 0
}

// FolderStats 单个受监控文件夹的进度计数
// 只用于进度展示，不作为任何决策依据
type FolderStats struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
}

// ReindexReason 重新索引原因
type ReindexReason string

// 重新索引原因常量
const (
	ReasonForceReindex  ReindexReason = "force-reindex"
	ReasonNewFile       ReindexReason = "new-file"
	ReasonOutdated      ReindexReason = "outdated"
	ReasonParserUpgrade ReindexReason = "parser-upgraded"
	ReasonRetryFailed   ReindexReason = "retry-failed"
	ReasonModified      ReindexReason = "modified"
)

// PlanStats 计划统计
type PlanStats struct {
	NewFiles      int `json:"new_files"`
	ModifiedFiles int `json:"modified_files"`
	FailedFiles   int `json:"failed_files"`
	OutdatedFiles int `json:"outdated_files"`
	SkippedFiles  int `json:"skipped_files"`
	Total         int `json:"total"`
}

// ReindexPlan 重索引计划
// Reindex Planner 的瞬态输出，从不持久化
type ReindexPlan struct {
	FilesToIndex  []string
	FilesToRemove []string
	Reasons       map[string]ReindexReason
	Stats         PlanStats
}

// Reconciles 校验统计总数是否等于分项之和
func (s PlanStats) Reconciles() bool {
	return s.Total == s.NewFiles+s.ModifiedFiles+s.FailedFiles+s.OutdatedFiles+s.SkippedFiles
}
