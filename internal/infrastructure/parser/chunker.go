package parser

import (
	"strings"
	"unicode"

	domainIndex "github.com/foldex/backend/internal/domain/index"
)

// Chunker 滑动窗口切片器
// 把提取文本切成带重叠的连续切片，保留字节偏移，切片内文本顺序不变
type Chunker struct{}

// NewChunker 创建切片器
func NewChunker() *Chunker {
	return &Chunker{}
}

// Chunk 按目标长度和重叠长度切片
// size/overlap 以字符（rune）计，Offset 是切片起点在原文中的字节偏移
func (c *Chunker) Chunk(text string, size, overlap int) []domainIndex.Chunk {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return assignPages(text, []domainIndex.Chunk{{Text: text, Offset: 0}})
	}

	// byteOffsets[i] 是第 i 个 rune 的字节偏移
	byteOffsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		byteOffsets[i] = pos
		pos += runeLen(r)
	}
	byteOffsets[len(runes)] = pos

	var chunks []domainIndex.Chunk
	step := size - overlap

	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// 尽量在空白处断开，最多回退窗口的五分之一
			end = breakAtWhitespace(runes, start, end, size/5)
		}

		chunks = append(chunks, domainIndex.Chunk{
			Text:   string(runes[start:end]),
			Offset: byteOffsets[start],
		})

		if end == len(runes) {
			break
		}

		// 以实际断点为基准推进，保持重叠长度
		step = end - start - overlap
		if step <= 0 {
			step = 1
		}
	}

	return assignPages(text, chunks)
}

// assignPages 按换页符给切片标页码。
// 分页解析器用 \f 分隔页面，没有换页符的文本页码保持 0。
func assignPages(text string, chunks []domainIndex.Chunk) []domainIndex.Chunk {
	if !strings.ContainsRune(text, pageSeparator) {
		return chunks
	}
	for i := range chunks {
		chunks[i].Page = 1 + strings.Count(text[:chunks[i].Offset], string(pageSeparator))
	}
	return chunks
}

// breakAtWhitespace 从窗口末尾向前找空白断点
func breakAtWhitespace(runes []rune, start, end, maxBack int) int {
	for i := end; i > end-maxBack && i > start+1; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// runeLen 返回 rune 的 UTF-8 编码长度
func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}
