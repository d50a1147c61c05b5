package events

import "time"

// WatchedFileEvent 受监控文件变更事件
// 当受监控文件夹下的受支持文件发生变更时触发
type WatchedFileEvent struct {
	// EventType 事件类型（created/modified/deleted）
	EventType EventType
	// FilePath 文件完整路径
	FilePath string
	// Folder 所属受监控文件夹
	Folder string
	// ModTime 文件最后修改时间
	ModTime time.Time
	// FileSize 文件大小（字节）
	FileSize int64
	// EventTime 事件发生时间
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *WatchedFileEvent) Type() EventType {
	return e.EventType
}

// Timestamp 实现 Event 接口
func (e *WatchedFileEvent) Timestamp() time.Time {
	return e.EventTime
}

// WatchSetEvent 受监控文件夹集合变更事件
// 新的文件夹列表由配置层给出，由管道负责对比新旧集合
type WatchSetEvent struct {
	// Folders 变更后的文件夹列表
	Folders []string
	// EventTime 事件发生时间
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *WatchSetEvent) Type() EventType {
	return WatchSetChanged
}

// Timestamp 实现 Event 接口
func (e *WatchSetEvent) Timestamp() time.Time {
	return e.EventTime
}
