// Package events 定义领域事件类型和接口
// 用于文件监控层与索引管道之间的事件驱动通信
package events

import "time"

// EventType 事件类型标识
type EventType string

// 受监控文件相关事件类型
const (
	// WatchedFileCreated 受监控文件创建事件
	WatchedFileCreated EventType = "watch.file.created"
	// WatchedFileModified 受监控文件修改事件
	WatchedFileModified EventType = "watch.file.modified"
	// WatchedFileDeleted 受监控文件删除事件
	WatchedFileDeleted EventType = "watch.file.deleted"
)

// 监控集合相关事件类型
const (
	// WatchSetChanged 受监控文件夹集合变更事件
	WatchSetChanged EventType = "watch.set.changed"
)

// Event 领域事件接口
// 所有事件类型都必须实现此接口
type Event interface {
	// Type 返回事件类型
	Type() EventType
	// Timestamp 返回事件发生时间
	Timestamp() time.Time
}
