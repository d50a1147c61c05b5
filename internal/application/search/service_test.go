package search

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFolderFilter(t *testing.T) {
	assert.Nil(t, buildFolderFilter(nil))

	single := buildFolderFilter([]string{"/docs"})
	require.NotNil(t, single)
	assert.Len(t, single.Must, 1)
	assert.Empty(t, single.Should)

	multi := buildFolderFilter([]string{"/docs", "/notes"})
	require.NotNil(t, multi)
	assert.Empty(t, multi.Must)
	assert.Len(t, multi.Should, 2)
}

func TestHitToResult(t *testing.T) {
	hit := &qdrant.ScoredPoint{
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"file_path":  {Kind: &qdrant.Value_StringValue{StringValue: "/docs/guide.pdf"}},
			"folder":     {Kind: &qdrant.Value_StringValue{StringValue: "/docs"}},
			"page":       {Kind: &qdrant.Value_IntegerValue{IntegerValue: 3}},
			"offset":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: 128}},
			"text":       {Kind: &qdrant.Value_StringValue{StringValue: "chunk text"}},
			"indexed_at": {Kind: &qdrant.Value_StringValue{StringValue: "2026-08-01T00:00:00Z"}},
		},
	}

	result := hitToResult(hit)
	require.NotNil(t, result)
	assert.Equal(t, "/docs/guide.pdf", result.FilePath)
	assert.Equal(t, "/docs", result.Folder)
	assert.Equal(t, int64(3), result.Page)
	assert.Equal(t, int64(128), result.Offset)
	assert.Equal(t, "chunk text", result.Text)
	assert.InDelta(t, 0.87, result.Score, 0.001)
}

func TestHitToResult_SkipsEmptyPayload(t *testing.T) {
	assert.Nil(t, hitToResult(&qdrant.ScoredPoint{Score: 0.5}))
	assert.Nil(t, hitToResult(&qdrant.ScoredPoint{
		Score:   0.5,
		Payload: map[string]*qdrant.Value{"text": {Kind: &qdrant.Value_StringValue{StringValue: "x"}}},
	}))
}
