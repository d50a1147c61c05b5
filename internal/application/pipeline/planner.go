// Package pipeline 实现自适应索引管道：
// 扫描 → 重索引决策 → 受限并发解析/切片 → token 限额批量向量化 → 串行写入。
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// 计划校验阈值。超过只告警，不阻止执行。
const (
	planWarnIndexFiles  = 10000
	planWarnRemoveFiles = 100
)

// ParserVersions 按扩展名提供当前解析器版本
type ParserVersions interface {
	Version(ext string) int
}

// PlanRequest 一次重索引决策的全部输入
type PlanRequest struct {
	// Candidates 候选文件列表，上游扫描器已过滤扩展名和排除规则
	Candidates []string
	// Snapshot 路径 → 状态记录快照
	Snapshot map[string]*index.FileStatusRecord
	// CurrentHashes 路径 → 当前廉价签名（大小+修改时间）
	CurrentHashes map[string]string
	// WatchedFolders 当前受监控的文件夹
	WatchedFolders []string
	// ForceReindex 无条件重索引全部候选文件
	ForceReindex bool
	// CheckModified 对无其他命中原因的文件做签名比对
	CheckModified bool
}

// Planner 重索引决策器。
// 纯决策函数，除读取传入的快照外不做任何 I/O。
type Planner struct {
	versions      ParserVersions
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewPlanner 创建决策器
func NewPlanner(versions ParserVersions, cfg *config.PipelineConfig) *Planner {
	return &Planner{
		versions:      versions,
		retryInterval: cfg.RetryInterval,
		logger:        log.NewModuleLogger("pipeline", "planner"),
	}
}

// Plan 对候选文件逐个决策，产出重索引计划
func (p *Planner) Plan(req PlanRequest) *index.ReindexPlan {
	plan := &index.ReindexPlan{
		Reasons: make(map[string]index.ReindexReason),
	}
	now := time.Now()

	for _, path := range req.Candidates {
		reason, include := p.decide(path, req, now)
		if !include {
			plan.Stats.SkippedFiles++
			continue
		}
		plan.FilesToIndex = append(plan.FilesToIndex, path)
		plan.Reasons[path] = reason

		switch reason {
		case index.ReasonNewFile:
			plan.Stats.NewFiles++
		case index.ReasonModified, index.ReasonForceReindex:
			plan.Stats.ModifiedFiles++
		case index.ReasonOutdated, index.ReasonParserUpgrade:
			plan.Stats.OutdatedFiles++
		case index.ReasonRetryFailed:
			plan.Stats.FailedFiles++
		}
	}
	plan.Stats.Total = len(req.Candidates)

	plan.FilesToRemove = p.findRemoved(req)

	p.logger.Info("reindex plan built",
		"candidates", len(req.Candidates),
		"to_index", len(plan.FilesToIndex),
		"to_remove", len(plan.FilesToRemove),
		"force", req.ForceReindex)

	return plan
}

// decide 单文件决策，首个命中的规则生效
func (p *Planner) decide(path string, req PlanRequest, now time.Time) (index.ReindexReason, bool) {
	if req.ForceReindex {
		return index.ReasonForceReindex, true
	}

	record, ok := req.Snapshot[path]
	if !ok || record == nil {
		return index.ReasonNewFile, true
	}

	if record.Status == index.StatusOutdated {
		return index.ReasonOutdated, true
	}

	// 解析器升级使既有切片失效，与文件本身是否变化无关
	ext := extOf(path)
	if current := p.versions.Version(ext); current > 0 && record.ParserVersion < current {
		return index.ReasonParserUpgrade, true
	}

	if record.Status == index.StatusFailed || record.Status == index.StatusError {
		if record.LastRetry == 0 {
			return index.ReasonRetryFailed, true
		}
		since := now.Sub(time.Unix(record.LastRetry, 0))
		if since > p.retryInterval {
			return index.ReasonRetryFailed, true
		}
		// 重试窗口内不按失败重试，但文件此后被修改的仍走下面的修改规则
	}

	if req.CheckModified {
		if current, ok := req.CurrentHashes[path]; ok && current != record.FileHash {
			return index.ReasonModified, true
		}
	}

	return "", false
}

// findRemoved 快照中位于受监控文件夹下、但已不在候选列表中的路径
func (p *Planner) findRemoved(req PlanRequest) []string {
	if len(req.Snapshot) == 0 {
		return nil
	}

	live := make(map[string]bool, len(req.Candidates))
	for _, path := range req.Candidates {
		live[path] = true
	}

	var removed []string
	for path := range req.Snapshot {
		if live[path] {
			continue
		}
		for _, folder := range req.WatchedFolders {
			if PathWithinFolder(path, folder) {
				removed = append(removed, path)
				break
			}
		}
	}
	return removed
}

// ValidatePlan 校验计划。
// filesToIndex 中的重复路径是硬错误；规模超限和统计不对账只产生告警。
func ValidatePlan(plan *index.ReindexPlan) ([]string, error) {
	var warnings []string

	seen := make(map[string]bool, len(plan.FilesToIndex))
	for _, path := range plan.FilesToIndex {
		if seen[path] {
			return warnings, fmt.Errorf("duplicate path in plan: %s", path)
		}
		seen[path] = true
	}

	if len(plan.FilesToIndex) > planWarnIndexFiles {
		warnings = append(warnings, fmt.Sprintf("plan indexes %d files, exceeds %d", len(plan.FilesToIndex), planWarnIndexFiles))
	}
	if len(plan.FilesToRemove) > planWarnRemoveFiles {
		warnings = append(warnings, fmt.Sprintf("plan removes %d files, exceeds %d", len(plan.FilesToRemove), planWarnRemoveFiles))
	}
	if !plan.Stats.Reconciles() {
		warnings = append(warnings, fmt.Sprintf("plan stats do not reconcile: %+v", plan.Stats))
	}

	return warnings, nil
}

// PathWithinFolder 边界安全的前缀判断。
// /docs 只匹配 /docs/ 下的路径，不会误匹配 /docs2/...
func PathWithinFolder(path, folder string) bool {
	folder = strings.TrimRight(folder, "/")
	return strings.HasPrefix(path, folder+"/")
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
