package models

import "errors"

// 模型校验错误
var (
	ErrInvalidBookID        = errors.New("invalid book id")
	ErrInvalidTitle         = errors.New("invalid title")
	ErrInvalidAuthor        = errors.New("invalid author")
	ErrInvalidFileKind      = errors.New("invalid file kind")
	ErrInvalidFormat        = errors.New("invalid book format")
	ErrInvalidFilename      = errors.New("invalid filename")
	ErrInvalidFileSize      = errors.New("invalid file size")
	ErrInvalidContentHash   = errors.New("invalid content hash")
	ErrInvalidStoragePath   = errors.New("invalid storage path")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidStructureID   = errors.New("invalid structure id")
	ErrInvalidChapterNumber = errors.New("invalid chapter number")
	ErrInvalidFileID        = errors.New("invalid file id")
)
