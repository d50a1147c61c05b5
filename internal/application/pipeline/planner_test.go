package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
)

type fakeVersions map[string]int

func (v fakeVersions) Version(ext string) int { return v[ext] }

func newTestPlanner(versions fakeVersions) *Planner {
	return NewPlanner(versions, &config.PipelineConfig{RetryInterval: 24 * time.Hour})
}

func TestPlanner_NewFile(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	plan := p.Plan(PlanRequest{
		Candidates: []string{"/docs/a.txt"},
		Snapshot:   map[string]*index.FileStatusRecord{},
	})

	require.Equal(t, []string{"/docs/a.txt"}, plan.FilesToIndex)
	assert.Equal(t, index.ReasonNewFile, plan.Reasons["/docs/a.txt"])
	assert.Equal(t, 1, plan.Stats.NewFiles)
}

func TestPlanner_ParserUpgradeDominatesHash(t *testing.T) {
	p := newTestPlanner(fakeVersions{".md": 3})

	snapshot := map[string]*index.FileStatusRecord{
		"/docs/b.md": {
			FilePath:      "/docs/b.md",
			Status:        index.StatusIndexed,
			ParserVersion: 1,
			FileHash:      "100-1",
		},
	}

	plan := p.Plan(PlanRequest{
		Candidates:    []string{"/docs/b.md"},
		Snapshot:      snapshot,
		CurrentHashes: map[string]string{"/docs/b.md": "100-1"}, // 签名未变
		CheckModified: true,
	})

	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonParserUpgrade, plan.Reasons["/docs/b.md"])
}

func TestPlanner_RetryBoundary(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	failedAt := func(ago time.Duration) map[string]*index.FileStatusRecord {
		return map[string]*index.FileStatusRecord{
			"/docs/c.txt": {
				FilePath:      "/docs/c.txt",
				Status:        index.StatusFailed,
				ParserVersion: 1,
				LastRetry:     time.Now().Add(-ago).Unix(),
			},
		}
	}

	// 10 小时前失败，间隔 24 小时：本轮排除
	plan := p.Plan(PlanRequest{Candidates: []string{"/docs/c.txt"}, Snapshot: failedAt(10 * time.Hour)})
	assert.Empty(t, plan.FilesToIndex)
	assert.Equal(t, 1, plan.Stats.SkippedFiles)

	// 正好在间隔上：仍排除
	plan = p.Plan(PlanRequest{Candidates: []string{"/docs/c.txt"}, Snapshot: failedAt(24 * time.Hour)})
	assert.Empty(t, plan.FilesToIndex)

	// 过了间隔：重试
	plan = p.Plan(PlanRequest{Candidates: []string{"/docs/c.txt"}, Snapshot: failedAt(25 * time.Hour)})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonRetryFailed, plan.Reasons["/docs/c.txt"])
}

func TestPlanner_FailedInRetryWindowStillChecksModified(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	snapshot := map[string]*index.FileStatusRecord{
		"/docs/c.txt": {
			FilePath:      "/docs/c.txt",
			Status:        index.StatusFailed,
			ParserVersion: 1,
			FileHash:      "100-1",
			LastRetry:     time.Now().Add(-1 * time.Hour).Unix(),
		},
	}

	// 重试窗口内但文件已被修改：按修改规则重索引，不等窗口到期
	plan := p.Plan(PlanRequest{
		Candidates:    []string{"/docs/c.txt"},
		Snapshot:      snapshot,
		CurrentHashes: map[string]string{"/docs/c.txt": "200-2"},
		CheckModified: true,
	})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonModified, plan.Reasons["/docs/c.txt"])

	// 签名没变：仍然排除
	plan = p.Plan(PlanRequest{
		Candidates:    []string{"/docs/c.txt"},
		Snapshot:      snapshot,
		CurrentHashes: map[string]string{"/docs/c.txt": "100-1"},
		CheckModified: true,
	})
	assert.Empty(t, plan.FilesToIndex)
}

func TestPlanner_RetryWithoutLastRetry(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	plan := p.Plan(PlanRequest{
		Candidates: []string{"/docs/c.txt"},
		Snapshot: map[string]*index.FileStatusRecord{
			"/docs/c.txt": {FilePath: "/docs/c.txt", Status: index.StatusError, ParserVersion: 1},
		},
	})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonRetryFailed, plan.Reasons["/docs/c.txt"])
}

func TestPlanner_ModifiedBySignature(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	snapshot := map[string]*index.FileStatusRecord{
		"/docs/d.txt": {
			FilePath:      "/docs/d.txt",
			Status:        index.StatusIndexed,
			ParserVersion: 1,
			FileHash:      "100-1",
		},
	}

	plan := p.Plan(PlanRequest{
		Candidates:    []string{"/docs/d.txt"},
		Snapshot:      snapshot,
		CurrentHashes: map[string]string{"/docs/d.txt": "200-2"},
		CheckModified: true,
	})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonModified, plan.Reasons["/docs/d.txt"])

	// 不检查修改时跳过
	plan = p.Plan(PlanRequest{
		Candidates:    []string{"/docs/d.txt"},
		Snapshot:      snapshot,
		CurrentHashes: map[string]string{"/docs/d.txt": "200-2"},
		CheckModified: false,
	})
	assert.Empty(t, plan.FilesToIndex)
}

func TestPlanner_ForceReindexWinsEverything(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	plan := p.Plan(PlanRequest{
		Candidates: []string{"/docs/a.txt"},
		Snapshot: map[string]*index.FileStatusRecord{
			"/docs/a.txt": {FilePath: "/docs/a.txt", Status: index.StatusIndexed, ParserVersion: 1},
		},
		ForceReindex: true,
	})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonForceReindex, plan.Reasons["/docs/a.txt"])
}

func TestPlanner_Idempotence(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 2})

	// 模拟一轮索引后的状态：全部 indexed、版本和签名都是当前值
	snapshot := map[string]*index.FileStatusRecord{}
	hashes := map[string]string{}
	candidates := []string{"/docs/a.txt", "/docs/b.txt", "/docs/c.txt"}
	for _, path := range candidates {
		snapshot[path] = &index.FileStatusRecord{
			FilePath:      path,
			Status:        index.StatusIndexed,
			ParserVersion: 2,
			FileHash:      "42-42",
		}
		hashes[path] = "42-42"
	}

	plan := p.Plan(PlanRequest{
		Candidates:    candidates,
		Snapshot:      snapshot,
		CurrentHashes: hashes,
		CheckModified: true,
	})

	assert.Empty(t, plan.FilesToIndex, "re-planning an already-indexed state must be a no-op")
	assert.Equal(t, 3, plan.Stats.SkippedFiles)
	assert.True(t, plan.Stats.Reconciles())
}

func TestPlanner_FindsRemovedFiles(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	plan := p.Plan(PlanRequest{
		Candidates: []string{"/docs/kept.txt"},
		Snapshot: map[string]*index.FileStatusRecord{
			"/docs/kept.txt": {FilePath: "/docs/kept.txt", Status: index.StatusIndexed, ParserVersion: 1},
			"/docs/gone.txt": {FilePath: "/docs/gone.txt", Status: index.StatusIndexed, ParserVersion: 1},
			"/other/x.txt":   {FilePath: "/other/x.txt", Status: index.StatusIndexed, ParserVersion: 1},
		},
		CurrentHashes:  map[string]string{},
		WatchedFolders: []string{"/docs"},
	})

	assert.Equal(t, []string{"/docs/gone.txt"}, plan.FilesToRemove,
		"only watched-folder paths missing from disk are removed")
}

func TestPlanner_OutdatedStatus(t *testing.T) {
	p := newTestPlanner(fakeVersions{".txt": 1})

	plan := p.Plan(PlanRequest{
		Candidates: []string{"/docs/o.txt"},
		Snapshot: map[string]*index.FileStatusRecord{
			"/docs/o.txt": {FilePath: "/docs/o.txt", Status: index.StatusOutdated, ParserVersion: 1},
		},
	})
	require.Len(t, plan.FilesToIndex, 1)
	assert.Equal(t, index.ReasonOutdated, plan.Reasons["/docs/o.txt"])
	assert.Equal(t, 1, plan.Stats.OutdatedFiles)
}

func TestValidatePlan_DuplicatesAreFatal(t *testing.T) {
	plan := &index.ReindexPlan{
		FilesToIndex: []string{"/a.txt", "/b.txt", "/a.txt"},
	}
	_, err := ValidatePlan(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidatePlan_SizeAndStatsWarnings(t *testing.T) {
	plan := &index.ReindexPlan{
		Stats: index.PlanStats{NewFiles: 1, Total: 5}, // 对不上账
	}
	for i := 0; i < planWarnRemoveFiles+1; i++ {
		plan.FilesToRemove = append(plan.FilesToRemove, "/gone/"+string(rune('a'+i%26))+".txt")
	}

	warnings, err := ValidatePlan(plan)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestPathWithinFolder_BoundarySafe(t *testing.T) {
	assert.True(t, PathWithinFolder("/docs/a.txt", "/docs"))
	assert.True(t, PathWithinFolder("/docs/sub/a.txt", "/docs/"))
	assert.False(t, PathWithinFolder("/docs2/a.txt", "/docs"))
	assert.False(t, PathWithinFolder("/docs", "/docs"))
}
