// Package parser 提供按扩展名注册的文本提取器和切片器
// 解析器带版本号，版本提升会使此前提取的内容失效并触发重索引
package parser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	domainIndex "github.com/foldex/backend/internal/domain/index"
	applog "github.com/foldex/backend/internal/infrastructure/log"
)

// Parser 文本提取器接口
// PDF/DOCX 等外部解析器通过 Register 接入
type Parser interface {
	// Extract 提取文件的纯文本内容
	Extract(filePath string) (string, error)
	// Version 提取逻辑版本，提升后强制重索引
	Version() int
}

// Registry 按扩展名索引的解析器注册表
type Registry struct {
	byExt  map[string]Parser
	logger *slog.Logger
}

// NewRegistry 创建注册表并挂载内置解析器
func NewRegistry() *Registry {
	r := &Registry{
		byExt:  make(map[string]Parser),
		logger: applog.NewModuleLogger("parser", "registry"),
	}

	r.Register(&PlainTextParser{}, ".txt")
	r.Register(&MarkdownParser{}, ".md", ".markdown")
	r.Register(&PDFParser{}, ".pdf")

	return r
}

// Register 注册解析器到一个或多个扩展名
func (r *Registry) Register(p Parser, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// Supports 判断扩展名是否有可用解析器
func (r *Registry) Supports(ext string) bool {
	_, ok := r.byExt[strings.ToLower(ext)]
	return ok
}

// Version 返回扩展名对应的解析器版本，未注册时为 0
func (r *Registry) Version(ext string) int {
	p, ok := r.byExt[strings.ToLower(ext)]
	if !ok {
		return 0
	}
	return p.Version()
}

// Extract 按扩展名选择解析器提取文本
// 文件已消失返回 ErrSourceMissing，解析失败包装为 ParseError
func (r *Registry) Extract(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	p, ok := r.byExt[ext]
	if !ok {
		return "", &domainIndex.ParseError{
			Path: filePath,
			Err:  fmt.Errorf("no parser registered for %q", ext),
		}
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return "", domainIndex.ErrSourceMissing
	}

	text, err := p.Extract(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domainIndex.ErrSourceMissing
		}
		return "", &domainIndex.ParseError{Path: filePath, Err: err}
	}

	return text, nil
}
