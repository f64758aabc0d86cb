package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

// 入口文档候选名，按优先级排列
var entryDocNames = []string{"index.html", "index.htm", "main.html", "main.htm"}

// 惯例资源目录：即使入口文档没有引用也会被打包
var conventionalAssetDirs = []string{"assets", "images", "img", "css", "styles", "fonts"}

// 惯例资源文件名：包根目录下常见的样式和封面文件
var conventionalAssetNames = map[string]bool{
	"style.css":  true,
	"styles.css": true,
	"cover.jpg":  true,
	"cover.jpeg": true,
	"cover.png":  true,
}

// HTMLBundleParser 解析单 HTML 文档或 HTML+资源 ZIP 包，
// 按标题元素（h1-h6）切分章节。
type HTMLBundleParser struct {
	store  *storage.LocalStore
	logger *logger.Logger
}

// NewHTMLBundleParser 创建 HTML 包解析器
func NewHTMLBundleParser(store *storage.LocalStore, log *logger.Logger) *HTMLBundleParser {
	return &HTMLBundleParser{store: store, logger: log}
}

// Parse 解析 HTML 电子书。ZIP 包先定位入口文档并提取资源，
// 单文档直接切分章节。
func (p *HTMLBundleParser) Parse(ctx context.Context, in Input) (*types.ParseResult, error) {
	if isZip(in.Data) {
		return p.parseArchive(in)
	}
	return p.parseDocument(in.BookID, in.Filename, stripBOM(in.Data), nil, "", nil)
}

func (p *HTMLBundleParser) parseArchive(in Input) (*types.ParseResult, error) {
	zr, err := openZip(in.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseInvalidContainer, "open archive")
	}

	entry := findEntryDoc(zr)
	if entry == "" {
		return nil, errors.New(errors.ErrParseFailed, "no html document in archive")
	}

	data, err := readZipFile(zr, entry)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseFailed, entry)
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseFailed, "parse entry document")
	}

	baseDir := path.Dir(entry)
	if baseDir == "." {
		baseDir = ""
	}

	// 选取资源：入口文档引用的 + 惯例目录下的白名单文件
	wanted := make(map[string]bool)
	for _, ref := range collectLocalRefs(doc, baseDir) {
		wanted[ref] = true
	}
	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if name == entry || !isAllowedAsset(name) {
			continue
		}
		if conventionalAssetNames[strings.ToLower(path.Base(name))] {
			wanted[name] = true
			continue
		}
		for _, dir := range conventionalAssetDirs {
			if strings.HasPrefix(name, dir+"/") || strings.Contains(name, "/"+dir+"/") {
				wanted[name] = true
				break
			}
		}
	}

	result := &types.ParseResult{}
	assetURLs := make(map[string]string)

	names := make([]string, 0, len(wanted))
	for name := range wanted {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !isAllowedAsset(name) {
			continue
		}
		assetData, err := readZipFile(zr, name)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("asset missing: %s", name))
			continue
		}

		class := types.AssetTypeForExtension(strings.ToLower(path.Ext(name)))
		target := p.store.GenerateSecurePath(types.FileKindAsset, in.BookID, path.Base(name), class.String())
		stored, err := p.store.Store(assetData, target)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("asset store failed: %s", name))
			p.logger.Warn("store asset failed", zap.String("href", name), zap.Error(err))
			continue
		}

		result.Assets = append(result.Assets, types.ParsedAsset{
			Href:       name,
			StoredPath: stored.Path,
			MediaType:  mediaTypeForAsset(name),
			Type:       class,
			Size:       stored.Size,
		})

		if signed, err := p.store.CreateSecureURL(stored.Path, 0); err == nil {
			assetURLs[name] = assetURLPrefix + signed.Query()
		}
	}

	if cover := detectCoverAsset(result.Assets); cover != nil {
		cover.IsCoverImage = true
		result.CoverPath = cover.StoredPath
	}

	return p.parseDocument(in.BookID, in.Filename, data, assetURLs, baseDir, result)
}

// parseDocument 解析入口文档：提取元数据，按标题切分章节。
// result 为 nil 时新建（单文档路径没有资源阶段）。
func (p *HTMLBundleParser) parseDocument(bookID, filename string, data []byte,
	assetURLs map[string]string, baseDir string, result *types.ParseResult) (*types.ParseResult, error) {

	if result == nil {
		result = &types.ParseResult{}
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseFailed, "parse html document")
	}

	if len(assetURLs) > 0 {
		rewriteNodeRefs(doc, baseDir, func(ref string) (string, bool) {
			url, ok := assetURLs[ref]
			return url, ok
		})
	}

	result.Metadata = htmlMetadata(doc, filename)

	body := findElement(doc, "body")
	if body == nil {
		return nil, errors.New(errors.ErrParseFailed, "document has no body")
	}

	segments := segmentByHeadings(body)
	if len(segments) == 0 {
		// 没有任何标题：整个文档作为单章
		content := renderNodes(bodyChildren(body))
		wc := countWords(textContent([]byte(content)))
		result.Chapters = []types.ParsedChapter{{
			Number:         1,
			Title:          result.Metadata.Title,
			Content:        content,
			WordCount:      wc,
			ReadingMinutes: readingMinutes(wc),
		}}
		result.TOC = []types.TOCEntry{{Order: 1, Level: 1, Title: result.Metadata.Title}}
	} else {
		for i, seg := range segments {
			number := i + 1
			title := strings.TrimSpace(nodeText(seg.heading))
			if title == "" {
				title = fmt.Sprintf("Chapter %d", number)
			}

			anchor := nodeAttr(seg.heading, "id")
			if anchor == "" {
				anchor = slugify(title)
			}
			if anchor == "" {
				anchor = fmt.Sprintf("heading-%d", number)
			}

			content := renderNodes(append([]*html.Node{seg.heading}, seg.nodes...))
			wc := countWords(textContent([]byte(content)))

			result.Chapters = append(result.Chapters, types.ParsedChapter{
				Number:         number,
				Title:          title,
				Content:        content,
				WordCount:      wc,
				ReadingMinutes: readingMinutes(wc),
			})
			result.TOC = append(result.TOC, types.TOCEntry{
				Order:  number,
				Level:  seg.level,
				Title:  title,
				Anchor: anchor,
			})
		}
	}

	for _, ch := range result.Chapters {
		result.WordCount += ch.WordCount
	}
	result.ReadingTime = readingMinutes(result.WordCount)

	p.logger.Info("html book parsed",
		zap.String("book_id", bookID),
		zap.Int("chapters", len(result.Chapters)),
		zap.Int("assets", len(result.Assets)),
		zap.Int("word_count", result.WordCount),
	)

	return result, nil
}

// findEntryDoc 定位入口文档：惯例名优先（根目录优先于子目录），
// 其次取归档顺序里第一个 HTML 文件。
func findEntryDoc(zr *zip.Reader) string {
	for _, want := range entryDocNames {
		// 根目录精确匹配
		for _, f := range zr.File {
			if strings.EqualFold(path.Clean(f.Name), want) {
				return path.Clean(f.Name)
			}
		}
		// 子目录里的同名文件
		for _, f := range zr.File {
			if strings.EqualFold(path.Base(f.Name), want) {
				return path.Clean(f.Name)
			}
		}
	}
	for _, f := range zr.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext == ".html" || ext == ".htm" {
			return path.Clean(f.Name)
		}
	}
	return ""
}

type headingSegment struct {
	heading *html.Node
	level   int
	nodes   []*html.Node
}

// 标题元素到层级的映射
var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// 会被下钻寻找标题的容器元素
var sectioningTags = map[string]bool{
	"div": true, "section": true, "article": true, "main": true,
}

// segmentByHeadings 按标题切分正文。标题前的导语不归入任何章节，
// 每章内容只包含该标题到下一标题之间的节点。
func segmentByHeadings(body *html.Node) []headingSegment {
	var segments []headingSegment

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if level, ok := headingLevels[c.Data]; ok {
					segments = append(segments, headingSegment{heading: c, level: level})
					continue
				}
				if sectioningTags[c.Data] {
					walk(c)
					continue
				}
			}
			if len(segments) > 0 {
				last := &segments[len(segments)-1]
				last.nodes = append(last.nodes, c)
			}
		}
	}
	walk(body)

	return segments
}

// renderNodes 按序渲染节点为 HTML 片段
func renderNodes(nodes []*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			continue
		}
	}
	return buf.String()
}

func bodyChildren(body *html.Node) []*html.Node {
	var nodes []*html.Node
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		nodes = append(nodes, c)
	}
	return nodes
}

// htmlMetadata 提取文档元数据：title 元素、首个 h1、meta 标签和 lang 属性
func htmlMetadata(doc *html.Node, filename string) types.Metadata {
	meta := types.Metadata{}

	if htmlEl := findElement(doc, "html"); htmlEl != nil {
		meta.Language = strings.TrimSpace(nodeAttr(htmlEl, "lang"))
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" {
					meta.Title = strings.TrimSpace(nodeText(n))
				}
			case "h1":
				if meta.Title == "" {
					meta.Title = strings.TrimSpace(nodeText(n))
				}
			case "meta":
				// name 和 property 两种写法都认，兼容 Dublin Core 键
				key := strings.ToLower(nodeAttr(n, "name"))
				if key == "" {
					key = strings.ToLower(nodeAttr(n, "property"))
				}
				content := strings.TrimSpace(nodeAttr(n, "content"))
				if content == "" {
					break
				}
				switch key {
				case "author", "dc.creator":
					if meta.Author == "" {
						meta.Author = content
					}
				case "description", "dc.description":
					if meta.Description == "" {
						meta.Description = content
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Title == "" {
		base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
		if base != "" && base != "." {
			meta.Title = base
		} else {
			meta.Title = "Unknown Title"
		}
	}
	if meta.Author == "" {
		meta.Author = "Unknown Author"
	}
	if meta.Language == "" {
		meta.Language = "en"
	}

	return meta
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
