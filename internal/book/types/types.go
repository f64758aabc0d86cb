package types

// BookFormat 电子书格式（封闭枚举，新增格式需要同时扩展所有 switch）
type BookFormat string

const (
	// FormatEPUB ZIP+XML 容器格式
	FormatEPUB BookFormat = "epub"
	// FormatHTML 单 HTML 文档或 HTML+资源 ZIP 包
	FormatHTML BookFormat = "html"
	// FormatMarkdown Markdown 文档（渲染为 HTML 后走 HTML 流程）
	FormatMarkdown BookFormat = "markdown"
)

// Valid 检查格式是否有效
func (f BookFormat) Valid() bool {
	switch f {
	case FormatEPUB, FormatHTML, FormatMarkdown:
		return true
	}
	return false
}

// String 返回字符串表示
func (f BookFormat) String() string {
	return string(f)
}

// FormatForExtension 根据文件扩展名推断格式，未知扩展名返回 false
func FormatForExtension(ext string) (BookFormat, bool) {
	switch ext {
	case ".epub":
		return FormatEPUB, true
	case ".html", ".htm", ".zip":
		return FormatHTML, true
	case ".md", ".markdown":
		return FormatMarkdown, true
	}
	return "", false
}

// FileKind 上传文件类别
type FileKind string

const (
	// FileKindCover 封面图片
	FileKindCover FileKind = "cover"
	// FileKindEbook 电子书正文
	FileKindEbook FileKind = "ebook"
	// FileKindSample 试读样章
	FileKindSample FileKind = "sample"
	// FileKindAsset 解析出的书内资源（图片、样式、字体）
	FileKindAsset FileKind = "asset"
)

// Valid 检查类别是否有效
func (k FileKind) Valid() bool {
	switch k {
	case FileKindCover, FileKindEbook, FileKindSample, FileKindAsset:
		return true
	}
	return false
}

// String 返回字符串表示
func (k FileKind) String() string {
	return string(k)
}

// ProcessStatus 文件处理状态
type ProcessStatus string

const (
	// ProcessStatusPending 待处理
	ProcessStatusPending ProcessStatus = "pending"
	// ProcessStatusProcessing 处理中
	ProcessStatusProcessing ProcessStatus = "processing"
	// ProcessStatusCompleted 处理完成
	ProcessStatusCompleted ProcessStatus = "completed"
	// ProcessStatusFailed 处理失败
	ProcessStatusFailed ProcessStatus = "failed"
)

// Valid 检查状态是否有效
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusPending, ProcessStatusProcessing, ProcessStatusCompleted, ProcessStatusFailed:
		return true
	}
	return false
}

// String 返回字符串表示
func (s ProcessStatus) String() string {
	return string(s)
}

// Terminal 是否为终态
func (s ProcessStatus) Terminal() bool {
	return s == ProcessStatusCompleted || s == ProcessStatusFailed
}

// QueueStatus 解析任务状态（单调推进，终态不可变更）
type QueueStatus string

const (
	// QueueStatusQueued 已入队
	QueueStatusQueued QueueStatus = "queued"
	// QueueStatusProcessing 处理中
	QueueStatusProcessing QueueStatus = "processing"
	// QueueStatusCompleted 处理完成
	QueueStatusCompleted QueueStatus = "completed"
	// QueueStatusFailed 处理失败
	QueueStatusFailed QueueStatus = "failed"
)

// Valid 检查状态是否有效
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusQueued, QueueStatusProcessing, QueueStatusCompleted, QueueStatusFailed:
		return true
	}
	return false
}

// String 返回字符串表示
func (s QueueStatus) String() string {
	return string(s)
}

// Terminal 是否为终态
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// CanTransitionTo 状态只允许向前推进
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	switch s {
	case QueueStatusQueued:
		return next == QueueStatusProcessing || next == QueueStatusFailed
	case QueueStatusProcessing:
		return next == QueueStatusCompleted || next == QueueStatusFailed
	}
	return false
}

// AssetType 资源文件类别
type AssetType string

const (
	// AssetTypeImage 图片
	AssetTypeImage AssetType = "image"
	// AssetTypeStylesheet 样式表
	AssetTypeStylesheet AssetType = "stylesheet"
	// AssetTypeFont 字体
	AssetTypeFont AssetType = "font"
	// AssetTypeOther 其他
	AssetTypeOther AssetType = "other"
)

// Valid 检查类别是否有效
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeImage, AssetTypeStylesheet, AssetTypeFont, AssetTypeOther:
		return true
	}
	return false
}

// String 返回字符串表示
func (t AssetType) String() string {
	return string(t)
}

// AssetTypeForExtension 根据扩展名判断资源类别
func AssetTypeForExtension(ext string) AssetType {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".svg":
		return AssetTypeImage
	case ".css":
		return AssetTypeStylesheet
	case ".ttf", ".otf", ".woff", ".woff2":
		return AssetTypeFont
	}
	return AssetTypeOther
}
