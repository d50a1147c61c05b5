package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageSeparator 分页解析器输出中的页面分隔符，切片器据此标页码
const pageSeparator = '\f'

// PDFParser PDF 文本提取器
// 逐页提取纯文本，页面之间用换页符分隔以保留页码信息
type PDFParser struct{}

// Extract 提取 PDF 全文
func (p *PDFParser) Extract(filePath string) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			if i < total {
				sb.WriteRune(pageSeparator)
			}
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页损坏不拖垮整个文件，留空页占位保住页码
			text = ""
		}
		sb.WriteString(text)
		if i < total {
			sb.WriteRune(pageSeparator)
		}
	}

	return sb.String(), nil
}

// Version 提取逻辑版本
func (p *PDFParser) Version() int {
	return 1
}
