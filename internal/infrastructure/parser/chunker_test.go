package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	c := NewChunker()

	chunks := c.Chunk("hello world", 100, 20)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestChunker_EmptyText(t *testing.T) {
	c := NewChunker()
	assert.Nil(t, c.Chunk("", 100, 20))
}

func TestChunker_OverlapAndOffsets(t *testing.T) {
	c := NewChunker()

	text := strings.Repeat("abcd ", 100) // 500 字符
	chunks := c.Chunk(text, 120, 30)
	require.Greater(t, len(chunks), 2)

	for i, chunk := range chunks {
		// 偏移必须指向原文中的切片起点
		assert.Equal(t, chunk.Text, text[chunk.Offset:chunk.Offset+len(chunk.Text)],
			"chunk %d offset mismatch", i)
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 120)
	}

	// 相邻切片必须重叠
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Offset + len(chunks[i-1].Text)
		assert.Less(t, chunks[i].Offset, prevEnd, "chunk %d should overlap previous", i)
	}

	// 最后一个切片必须覆盖到文本末尾
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.Offset+len(last.Text))
}

func TestChunker_MultibyteOffsets(t *testing.T) {
	c := NewChunker()

	text := strings.Repeat("中文字符测试 ", 50)
	chunks := c.Chunk(text, 40, 10)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		// 多字节文本的字节偏移也必须能还原原文
		assert.Equal(t, chunk.Text, text[chunk.Offset:chunk.Offset+len(chunk.Text)])
	}
}

func TestChunker_BreaksAtWhitespace(t *testing.T) {
	c := NewChunker()

	text := strings.Repeat("word ", 60)
	chunks := c.Chunk(text, 52, 0)
	require.Greater(t, len(chunks), 1)

	// 中间切片应在空白处断开，而不是硬切单词
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk.Text, " "),
			"chunk should end at whitespace: %q", chunk.Text)
	}
}

func TestChunker_AssignsPagesFromSeparators(t *testing.T) {
	c := NewChunker()

	text := strings.Repeat("alpha ", 30) + "\f" +
		strings.Repeat("bravo ", 30) + "\f" +
		strings.Repeat("charlie ", 30)
	chunks := c.Chunk(text, 40, 0)
	require.Greater(t, len(chunks), 3)

	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Page)
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].Page, chunks[i-1].Page)
	}
}

func TestChunker_NoSeparatorMeansPageZero(t *testing.T) {
	c := NewChunker()

	chunks := c.Chunk(strings.Repeat("plain text ", 30), 40, 0)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.Equal(t, 0, chunk.Page)
	}
}
