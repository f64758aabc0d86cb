package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

const (
	containerEntry = "META-INF/container.xml"
	ncxMediaType   = "application/x-dtbncx+xml"

	// 签名资源的访问前缀，网关按 path/expires/token 参数校验
	assetURLPrefix = "/storage/files?"
)

// ContainerParser 解析 ZIP+XML 容器格式电子书：
// container.xml 定位包描述文件，包描述文件给出元数据、资源清单和阅读顺序。
type ContainerParser struct {
	store  *storage.LocalStore
	logger *logger.Logger
}

// NewContainerParser 创建容器格式解析器
func NewContainerParser(store *storage.LocalStore, log *logger.Logger) *ContainerParser {
	return &ContainerParser{store: store, logger: log}
}

// container.xml 结构
type containerXML struct {
	XMLName   xml.Name `xml:"container"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// 包描述文件（OPF）结构
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfMetadata struct {
	Titles       []string  `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []string  `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Publishers   []string  `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Languages    []string  `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers  []string  `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Descriptions []string  `xml:"http://purl.org/dc/elements/1.1/ description"`
	Dates        []string  `xml:"http://purl.org/dc/elements/1.1/ date"`
	Rights       []string  `xml:"http://purl.org/dc/elements/1.1/ rights"`
	Subjects     []string  `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Metas        []opfMeta `xml:"meta"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// NCX 导航文件结构
type ncxDoc struct {
	XMLName xml.Name `xml:"ncx"`
	NavMap  struct {
		NavPoints []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// Parse 解析容器格式电子书。容器结构损坏是硬失败；
// 单个章节或资源缺失记入 Warnings 继续处理。
func (p *ContainerParser) Parse(ctx context.Context, in Input) (*types.ParseResult, error) {
	if !isZip(in.Data) {
		return nil, errors.New(errors.ErrParseInvalidContainer, "not a zip archive")
	}

	zr, err := openZip(in.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseInvalidContainer, "open archive")
	}

	containerData, err := readZipFile(zr, containerEntry)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseInvalidContainer, containerEntry)
	}

	var container containerXML
	if err := xml.Unmarshal(containerData, &container); err != nil {
		return nil, errors.Wrap(err, errors.ErrParseInvalidContainer, "decode container.xml")
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return nil, errors.New(errors.ErrParseMissingPackage, "container.xml declares no rootfile")
	}

	opfPath := container.Rootfiles[0].FullPath
	opfData, err := readZipFile(zr, opfPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParseMissingPackage, opfPath)
	}

	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, errors.Wrap(err, errors.ErrParseMissingPackage, "decode package document")
	}
	if len(pkg.Spine.ItemRefs) == 0 {
		return nil, errors.New(errors.ErrParseMissingSpine, "spine declares no reading order")
	}

	opfDir := path.Dir(opfPath)
	if opfDir == "." {
		opfDir = ""
	}

	result := &types.ParseResult{
		Metadata: metadataFromOPF(&pkg.Metadata),
	}

	itemsByID := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		itemsByID[item.ID] = item
	}

	// 阅读顺序中的文档不作为附属资源提取
	spineDocs := make(map[string]bool, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := itemsByID[ref.IDRef]
		if !ok {
			continue
		}
		if resolved, err := resolveRelativePath(opfDir, item.Href); err == nil {
			spineDocs[resolved] = true
		}
	}

	assetURLs := p.extractAssets(zr, &pkg, itemsByID, opfDir, spineDocs, in.BookID, result)

	tocEntries, tocTitles := p.buildTOC(zr, &pkg, itemsByID, opfDir)

	p.extractChapters(zr, &pkg, itemsByID, opfDir, tocTitles, assetURLs, result)
	if len(result.Chapters) == 0 {
		return nil, errors.New(errors.ErrParseFailed, "no readable chapter in spine")
	}

	if len(tocEntries) > 0 {
		result.TOC = tocEntries
	} else {
		// 没有导航文件时按章节合成目录
		for i, ch := range result.Chapters {
			result.TOC = append(result.TOC, types.TOCEntry{
				Order: i + 1,
				Level: 1,
				Title: ch.Title,
			})
		}
	}

	for _, ch := range result.Chapters {
		result.WordCount += ch.WordCount
	}
	result.ReadingTime = readingMinutes(result.WordCount)

	p.logger.Info("container book parsed",
		zap.String("book_id", in.BookID),
		zap.Int("chapters", len(result.Chapters)),
		zap.Int("assets", len(result.Assets)),
		zap.Int("word_count", result.WordCount),
		zap.Int("warnings", len(result.Warnings)),
	)

	return result, nil
}

// extractAssets 提取白名单内的资源文件并落盘，
// 返回归档内路径到签名 URL 的映射供章节重写引用。
func (p *ContainerParser) extractAssets(zr *zip.Reader, pkg *opfPackage, itemsByID map[string]opfItem,
	opfDir string, spineDocs map[string]bool, bookID string, result *types.ParseResult) map[string]string {

	coverID := ""
	for _, meta := range pkg.Metadata.Metas {
		if meta.Name == "cover" {
			coverID = meta.Content
			break
		}
	}

	assetURLs := make(map[string]string)
	for _, item := range pkg.Manifest.Items {
		resolved, err := resolveRelativePath(opfDir, item.Href)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unsafe asset path skipped: %s", item.Href))
			continue
		}
		if spineDocs[resolved] || !isAllowedAsset(resolved) {
			continue
		}

		data, err := readZipFile(zr, resolved)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("asset missing: %s", resolved))
			continue
		}

		class := types.AssetTypeForExtension(strings.ToLower(path.Ext(resolved)))
		target := p.store.GenerateSecurePath(types.FileKindAsset, bookID, path.Base(resolved), class.String())
		stored, err := p.store.Store(data, target)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("asset store failed: %s", resolved))
			p.logger.Warn("store asset failed", zap.String("href", resolved), zap.Error(err))
			continue
		}

		mediaType := item.MediaType
		if mediaType == "" {
			mediaType = mediaTypeForAsset(resolved)
		}

		asset := types.ParsedAsset{
			ID:         item.ID,
			Href:       resolved,
			StoredPath: stored.Path,
			MediaType:  mediaType,
			Type:       class,
			Size:       stored.Size,
		}
		if item.ID != "" && item.ID == coverID || strings.Contains(item.Properties, "cover-image") {
			asset.IsCoverImage = true
		}
		result.Assets = append(result.Assets, asset)

		if signed, err := p.store.CreateSecureURL(stored.Path, 0); err == nil {
			assetURLs[resolved] = assetURLPrefix + signed.Query()
		}
	}

	// 封面：包描述声明优先，再按命名惯例兜底
	var cover *types.ParsedAsset
	for i := range result.Assets {
		if result.Assets[i].IsCoverImage {
			cover = &result.Assets[i]
			break
		}
	}
	if cover == nil {
		if cover = detectCoverAsset(result.Assets); cover != nil {
			cover.IsCoverImage = true
		}
	}
	if cover != nil {
		result.CoverPath = cover.StoredPath
	}

	return assetURLs
}

// extractChapters 按阅读顺序提取章节，缺失的章节文件记警告后跳过
func (p *ContainerParser) extractChapters(zr *zip.Reader, pkg *opfPackage, itemsByID map[string]opfItem,
	opfDir string, tocTitles map[string]string, assetURLs map[string]string, result *types.ParseResult) {

	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := itemsByID[ref.IDRef]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("spine references unknown item: %s", ref.IDRef))
			continue
		}

		resolved, err := resolveRelativePath(opfDir, item.Href)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unsafe chapter path skipped: %s", item.Href))
			continue
		}

		data, err := readZipFile(zr, resolved)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("chapter file missing: %s", resolved))
			p.logger.Warn("chapter file missing", zap.String("href", resolved))
			continue
		}

		number := len(result.Chapters) + 1
		title := tocTitles[resolved]
		if title == "" {
			title = extractDocTitle(data)
		}
		if title == "" {
			title = fmt.Sprintf("Chapter %d", number)
		}

		content := rewriteAssetRefs(string(data), path.Dir(resolved), func(ref string) (string, bool) {
			url, ok := assetURLs[ref]
			return url, ok
		})

		wc := wordCountHTML(data)
		result.Chapters = append(result.Chapters, types.ParsedChapter{
			Number:         number,
			Title:          title,
			Content:        content,
			WordCount:      wc,
			ReadingMinutes: readingMinutes(wc),
		})
	}
}

// buildTOC 解析导航文件：优先 nav 属性的导航文档，其次 NCX。
// 返回目录条目和章节路径到标题的映射。
func (p *ContainerParser) buildTOC(zr *zip.Reader, pkg *opfPackage, itemsByID map[string]opfItem,
	opfDir string) ([]types.TOCEntry, map[string]string) {

	// ePub3 导航文档
	for _, item := range pkg.Manifest.Items {
		if !strings.Contains(item.Properties, "nav") {
			continue
		}
		resolved, err := resolveRelativePath(opfDir, item.Href)
		if err != nil {
			continue
		}
		data, err := readZipFile(zr, resolved)
		if err != nil {
			continue
		}
		if entries := parseNavDoc(data, path.Dir(resolved)); len(entries) > 0 {
			return entries, tocTitleIndex(entries)
		}
	}

	// NCX 兜底
	var ncxItem *opfItem
	if item, ok := itemsByID[pkg.Spine.Toc]; ok {
		ncxItem = &item
	} else {
		for _, item := range pkg.Manifest.Items {
			if item.MediaType == ncxMediaType {
				it := item
				ncxItem = &it
				break
			}
		}
	}
	if ncxItem == nil {
		return nil, nil
	}

	resolved, err := resolveRelativePath(opfDir, ncxItem.Href)
	if err != nil {
		return nil, nil
	}
	data, err := readZipFile(zr, resolved)
	if err != nil {
		return nil, nil
	}

	var ncx ncxDoc
	if err := xml.Unmarshal(data, &ncx); err != nil {
		p.logger.Warn("decode ncx failed", zap.String("href", resolved), zap.Error(err))
		return nil, nil
	}

	var entries []types.TOCEntry
	var flatten func(points []ncxNavPoint, level int)
	flatten = func(points []ncxNavPoint, level int) {
		for _, np := range points {
			entry := types.TOCEntry{
				Order: len(entries) + 1,
				Level: level,
				Title: strings.TrimSpace(np.Label),
			}
			if href, anchor, err := splitHref(path.Dir(resolved), np.Content.Src); err == nil {
				entry.Href = href
				entry.Anchor = anchor
			}
			entries = append(entries, entry)
			flatten(np.Children, level+1)
		}
	}
	flatten(ncx.NavMap.NavPoints, 1)

	return entries, tocTitleIndex(entries)
}

// metadataFromOPF 提取元数据，缺失字段使用占位值
func metadataFromOPF(md *opfMetadata) types.Metadata {
	meta := types.Metadata{
		Title:    firstNonEmpty(md.Titles, "Unknown Title"),
		Author:   firstNonEmpty(md.Creators, "Unknown Author"),
		Language: firstNonEmpty(md.Languages, "en"),
	}
	if len(md.Publishers) > 0 {
		meta.Publisher = strings.TrimSpace(md.Publishers[0])
	}
	if len(md.Identifiers) > 0 {
		meta.Identifier = strings.TrimSpace(md.Identifiers[0])
	}
	if len(md.Descriptions) > 0 {
		meta.Description = strings.TrimSpace(md.Descriptions[0])
	}
	if len(md.Dates) > 0 {
		meta.Date = strings.TrimSpace(md.Dates[0])
	}
	if len(md.Rights) > 0 {
		meta.Rights = strings.TrimSpace(md.Rights[0])
	}
	for _, s := range md.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			meta.Subjects = append(meta.Subjects, s)
		}
	}
	return meta
}

func firstNonEmpty(values []string, fallback string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}

// splitHref 解析导航引用：返回相对 baseDir 归一化的文档路径和锚点
func splitHref(baseDir, href string) (string, string, error) {
	anchor := ""
	if i := strings.Index(href, "#"); i >= 0 {
		anchor = href[i+1:]
	}
	resolved, err := resolveRelativePath(baseDir, href)
	if err != nil {
		return "", "", err
	}
	return resolved, anchor, nil
}

// tocTitleIndex 建立章节文档路径到首个目录标题的映射
func tocTitleIndex(entries []types.TOCEntry) map[string]string {
	titles := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Href == "" || e.Title == "" {
			continue
		}
		if _, ok := titles[e.Href]; !ok {
			titles[e.Href] = e.Title
		}
	}
	return titles
}

// parseNavDoc 解析 ePub3 导航文档：优先 epub:type="toc" 的 nav 元素，
// 否则取第一个 nav，抽取其中链接为目录条目。
func parseNavDoc(data []byte, baseDir string) []types.TOCEntry {
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil
	}

	var navs []*html.Node
	var findNavs func(n *html.Node)
	findNavs = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "nav" {
			navs = append(navs, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findNavs(c)
		}
	}
	findNavs(doc)
	if len(navs) == 0 {
		return nil
	}

	target := navs[0]
	for _, nav := range navs {
		if nodeAttr(nav, "epub:type") == "toc" {
			target = nav
			break
		}
	}

	var entries []types.TOCEntry
	var walk func(n *html.Node, level int)
	walk = func(n *html.Node, level int) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "ol", "ul":
				walk(c, level+1)
			case "li":
				walk(c, level)
			case "a":
				title := strings.TrimSpace(nodeText(c))
				if title == "" {
					continue
				}
				entry := types.TOCEntry{
					Order: len(entries) + 1,
					Level: level,
					Title: title,
				}
				if href := nodeAttr(c, "href"); href != "" {
					if resolved, anchor, err := splitHref(baseDir, href); err == nil {
						entry.Href = resolved
						entry.Anchor = anchor
					}
				}
				entries = append(entries, entry)
			default:
				walk(c, level)
			}
		}
	}
	walk(target, 0)

	return entries
}

// extractDocTitle 从章节文档提取标题：首个 h1，其次 title 元素
func extractDocTitle(data []byte) string {
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return ""
	}

	var h1, title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1":
				if h1 == "" {
					h1 = strings.TrimSpace(nodeText(n))
				}
			case "title":
				if title == "" {
					title = strings.TrimSpace(nodeText(n))
				}
			}
		}
		if h1 != "" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if h1 != "" {
		return h1
	}
	return title
}

func nodeAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
