package parser

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// plainTextVersion 纯文本提取逻辑版本
const plainTextVersion = 1

// Extract 读取文件并清理无效 UTF-8
func (p *PlainTextParser) Extract(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return sanitizeUTF8(string(data)), nil
}

// Version 实现 Parser 接口
func (p *PlainTextParser) Version() int {
	return plainTextVersion
}

// MarkdownParser Markdown 解析器
// 在纯文本提取之上剥离文档噪声（front matter、目录、编辑链接）
type MarkdownParser struct{}

// markdownVersion Markdown 提取逻辑版本
const markdownVersion = 2

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	editLinkRe    = regexp.MustCompile(`(?mi)^\[edit[^\]]*\]\([^\)]+\)\s*$`)
	tocRe         = regexp.MustCompile(`(?mi)^#{1,3}\s+(?:table of )?contents?\s*\n(?:\s*[-*]\s*\[.*?\]\(#.*?\)\s*\n)*`)
)

// Extract 读取 Markdown 并去除样板内容
func (p *MarkdownParser) Extract(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}

	text := sanitizeUTF8(string(data))
	text = frontMatterRe.ReplaceAllString(text, "")
	text = editLinkRe.ReplaceAllString(text, "")
	text = tocRe.ReplaceAllString(text, "")

	return text, nil
}

// Version 实现 Parser 接口
func (p *MarkdownParser) Version() int {
	return markdownVersion
}

// sanitizeUTF8 清理字符串中的无效 UTF-8 字符
// Qdrant 客户端要求所有字符串必须是有效的 UTF-8
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
