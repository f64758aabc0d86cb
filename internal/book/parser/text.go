package parser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// wordsPerMinute 阅读速度估算基准
const wordsPerMinute = 200

// textContent 提取 HTML 文本内容，跳过 script/style 块
func textContent(data []byte) string {
	node, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		// 解析失败时退化为去标签处理
		return stripTags(string(data))
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	return sb.String()
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, " ")
}

// countWords 折叠空白符后统计非空 token 数
func countWords(text string) int {
	return len(strings.Fields(text))
}

// wordCountHTML 统计 HTML 文档的词数
func wordCountHTML(data []byte) int {
	return countWords(textContent(data))
}

// readingMinutes 估算阅读时间：ceil(words / 200)，至少 1 分钟（空内容为 0）
func readingMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}

var slugStrip = regexp.MustCompile(`[^a-z0-9\s-]+`)
var slugSpaces = regexp.MustCompile(`\s+`)

const maxSlugLen = 60

// slugify 将标题转换为锚点 id：小写、去非字母数字、空格转连字符、截断
func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

// stripBOM 去除 UTF-8 BOM
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
