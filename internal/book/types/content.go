package types

// Metadata 解析出的书籍元数据
type Metadata struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Publisher   string   `json:"publisher,omitempty"`
	Language    string   `json:"language"`
	Identifier  string   `json:"identifier,omitempty"`
	Description string   `json:"description,omitempty"`
	Date        string   `json:"date,omitempty"`
	Rights      string   `json:"rights,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
}

// TOCEntry 目录条目
type TOCEntry struct {
	Order  int    `json:"order"`
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Href   string `json:"href,omitempty"`
	Anchor string `json:"anchor,omitempty"`
}

// ParsedChapter 解析出的章节
type ParsedChapter struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	WordCount      int    `json:"word_count"`
	ReadingMinutes int    `json:"reading_minutes"`
}

// ParsedAsset 解析并落盘的资源文件
type ParsedAsset struct {
	ID           string    `json:"id,omitempty"`
	Href         string    `json:"href"`        // 容器内原始路径
	StoredPath   string    `json:"stored_path"` // 落盘后的路径
	MediaType    string    `json:"media_type"`
	Type         AssetType `json:"type"`
	Size         int64     `json:"size"`
	IsCoverImage bool      `json:"is_cover_image,omitempty"`
}

// ParseResult 解析结果：元数据 + 有序章节 + 目录 + 资源
type ParseResult struct {
	Metadata    Metadata        `json:"metadata"`
	Chapters    []ParsedChapter `json:"chapters"`
	TOC         []TOCEntry      `json:"toc"`
	Assets      []ParsedAsset   `json:"assets"`
	CoverPath   string          `json:"cover_path,omitempty"`
	WordCount   int             `json:"word_count"`
	ReadingTime int             `json:"reading_time"` // 分钟
	Warnings    []string        `json:"warnings,omitempty"`
}
