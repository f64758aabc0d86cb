package parser

import (
	"bytes"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
)

// 资源白名单扩展名，其余一律跳过
var allowedAssetExts = map[string]string{
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".css":   "text/css",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// 常见封面文件名，按优先级排列
var coverNames = []string{
	"cover.jpg", "cover.jpeg", "cover.png", "cover.gif",
}

func isAllowedAsset(href string) bool {
	_, ok := allowedAssetExts[strings.ToLower(path.Ext(href))]
	return ok
}

func mediaTypeForAsset(href string) string {
	if mt, ok := allowedAssetExts[strings.ToLower(path.Ext(href))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// detectCoverAsset 选封面：先按常见文件名精确匹配，再找名字含 cover 的图片，
// 最后退回第一张图片。没有图片返回 nil。
func detectCoverAsset(assets []types.ParsedAsset) *types.ParsedAsset {
	for _, name := range coverNames {
		for i := range assets {
			if strings.EqualFold(path.Base(assets[i].Href), name) {
				return &assets[i]
			}
		}
	}
	for i := range assets {
		if assets[i].Type == types.AssetTypeImage &&
			strings.Contains(strings.ToLower(path.Base(assets[i].Href)), "cover") {
			return &assets[i]
		}
	}
	for i := range assets {
		if assets[i].Type == types.AssetTypeImage {
			return &assets[i]
		}
	}
	return nil
}

// rewriteAssetRefs 把章节 HTML 中的资源引用替换为签名 URL。
// resolve 接收相对 baseDir 解析后的归一化路径，返回可访问 URL。
// 解析失败时原样返回，引用未命中时保持不变。
func rewriteAssetRefs(chapterHTML, baseDir string, resolve func(resolved string) (string, bool)) string {
	doc, err := html.Parse(strings.NewReader(chapterHTML))
	if err != nil {
		return chapterHTML
	}

	rewriteNodeRefs(doc, baseDir, resolve)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return chapterHTML
	}
	return buf.String()
}

// rewriteNodeRefs 在已解析的节点树上原地替换资源引用
func rewriteNodeRefs(root *html.Node, baseDir string, resolve func(resolved string) (string, bool)) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				if !isRefAttr(n.Data, attr.Key) || !isLocalRef(attr.Val) {
					continue
				}
				resolved, err := resolveRelativePath(baseDir, attr.Val)
				if err != nil {
					continue
				}
				if url, ok := resolve(resolved); ok {
					n.Attr[i].Val = url
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

// collectLocalRefs 收集节点树引用的本地资源路径（相对 baseDir 归一化）
func collectLocalRefs(root *html.Node, baseDir string) []string {
	seen := make(map[string]bool)
	var refs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if !isRefAttr(n.Data, attr.Key) || !isLocalRef(attr.Val) {
					continue
				}
				resolved, err := resolveRelativePath(baseDir, attr.Val)
				if err != nil || seen[resolved] {
					continue
				}
				seen[resolved] = true
				refs = append(refs, resolved)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return refs
}

// isLocalRef 过滤外链、内联数据和纯锚点引用
func isLocalRef(val string) bool {
	if val == "" || strings.HasPrefix(val, "#") {
		return false
	}
	if strings.Contains(val, "://") || strings.HasPrefix(val, "//") || strings.HasPrefix(val, "data:") {
		return false
	}
	return true
}

func isRefAttr(tag, key string) bool {
	switch tag {
	case "img", "source", "audio", "video", "script":
		return key == "src"
	case "link":
		return key == "href"
	case "image":
		// SVG 内嵌图片
		return key == "href" || key == "xlink:href"
	default:
		return false
	}
}
