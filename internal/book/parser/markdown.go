package parser

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

// MarkdownParser 将 Markdown 渲染为 HTML 后复用标题切分流程
type MarkdownParser struct {
	md   goldmark.Markdown
	html *HTMLBundleParser
}

// NewMarkdownParser 创建 Markdown 解析器
func NewMarkdownParser(store *storage.LocalStore, log *logger.Logger) *MarkdownParser {
	return &MarkdownParser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
		),
		html: NewHTMLBundleParser(store, log),
	}
}

// Parse 渲染 Markdown 并按标题切分章节
func (p *MarkdownParser) Parse(ctx context.Context, in Input) (*types.ParseResult, error) {
	var buf bytes.Buffer
	if err := p.md.Convert(stripBOM(in.Data), &buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrParseFailed, "render markdown")
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html><html><head></head><body>")
	doc.Write(buf.Bytes())
	doc.WriteString("</body></html>")

	return p.html.parseDocument(in.BookID, in.Filename, []byte(doc.String()), nil, "", nil)
}
