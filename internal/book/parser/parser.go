package parser

import (
	"context"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

// Input 解析输入
type Input struct {
	BookID   string
	Filename string
	Data     []byte
}

// Parser 格式解析器，输出统一的 ParseResult
type Parser interface {
	// Parse 解析电子书字节流。硬失败返回错误（任务终止），
	// 软失败记录在 ParseResult.Warnings 中，任务仍然完成。
	Parse(ctx context.Context, in Input) (*types.ParseResult, error)
}

// New 按格式创建解析器。枚举必须穷尽，新增格式时编译器会在这里报错。
func New(format types.BookFormat, store *storage.LocalStore, log *logger.Logger) (Parser, error) {
	switch format {
	case types.FormatEPUB:
		return NewContainerParser(store, log), nil
	case types.FormatHTML:
		return NewHTMLBundleParser(store, log), nil
	case types.FormatMarkdown:
		return NewMarkdownParser(store, log), nil
	default:
		return nil, errors.New(errors.ErrBookInvalidFileType, format.String())
	}
}
