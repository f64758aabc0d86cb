package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	apperrors "github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
)

func TestHTMLBundleHeadingSegmentation(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	doc := `<html lang="de"><head><title>My Essays</title>
<meta name="author" content="John Doe"/></head><body>
<p>preamble before any heading</p>
<h2 id="intro">Introduction</h2><p>intro words here</p>
<h2>Middle Part</h2><p>middle words</p>
<h2>Closing!</h2><p>closing words</p>
</body></html>`

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "essays.html", Data: []byte(doc)})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 3)
	assert.Equal(t, "Introduction", result.Chapters[0].Title)
	assert.Equal(t, "Middle Part", result.Chapters[1].Title)
	assert.Contains(t, result.Chapters[1].Content, "middle words")
	assert.NotContains(t, result.Chapters[1].Content, "intro words")
	assert.NotContains(t, result.Chapters[0].Content, "preamble")

	// 锚点：已有 id 优先，其次标题 slug
	require.Len(t, result.TOC, 3)
	assert.Equal(t, "intro", result.TOC[0].Anchor)
	assert.Equal(t, "middle-part", result.TOC[1].Anchor)
	assert.Equal(t, 2, result.TOC[0].Level)

	assert.Equal(t, "My Essays", result.Metadata.Title)
	assert.Equal(t, "John Doe", result.Metadata.Author)
	assert.Equal(t, "de", result.Metadata.Language)
}

func TestHTMLBundleNoHeadingsSingleChapter(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	doc := `<html><head><title>Flat Doc</title></head><body><p>just paragraphs</p><p>nothing else</p></body></html>`

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "flat.html", Data: []byte(doc)})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 1)
	assert.Equal(t, "Flat Doc", result.Chapters[0].Title)
	assert.Contains(t, result.Chapters[0].Content, "just paragraphs")
	require.Len(t, result.TOC, 1)
}

func TestHTMLBundleNestedHeadings(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	// 标题藏在容器元素里也要被发现
	doc := `<html><body><div><section>
<h1>Top</h1><p>top text</p>
<h3>Deep</h3><p>deep text</p>
</section></div></body></html>`

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "n.html", Data: []byte(doc)})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 2)
	assert.Equal(t, "Top", result.Chapters[0].Title)
	assert.Equal(t, 3, result.TOC[1].Level)
}

func TestHTMLBundleZipEntryDocAndAssets(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	data := buildZip(t, map[string]string{
		"readme.txt": "not this one",
		"index.html": `<html><head><title>Bundle</title><link rel="stylesheet" href="css/site.css"/></head>` +
			`<body><h1>Start</h1><img src="images/photo.png"/></body></html>`,
		"css/site.css":     "h1 { color: red }",
		"images/photo.png": "\x89PNGfake",
		"images/cover.jpg": "\xff\xd8fake",
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "bundle.zip", Data: data})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 1)
	assert.Equal(t, "Start", result.Chapters[0].Title)

	// 引用的和惯例目录下的资源都被提取
	assert.Len(t, result.Assets, 3)
	for _, a := range result.Assets {
		assert.NotEmpty(t, a.StoredPath)
	}

	// 封面按命名惯例识别
	assert.True(t, strings.Contains(result.CoverPath, "cover"))

	// 引用被重写为签名 URL
	assert.Contains(t, result.Chapters[0].Content, assetURLPrefix)
	assert.NotContains(t, result.Chapters[0].Content, `src="images/photo.png"`)
}

func TestHTMLBundleDublinCoreMeta(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	doc := `<html><head><title>Annotated</title>
<meta property="dc.creator" content="Real Author"/>
<meta property="dc.description" content="A described work"/>
</head><body><p>text</p></body></html>`

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "a.html", Data: []byte(doc)})
	require.NoError(t, err)

	assert.Equal(t, "Real Author", result.Metadata.Author)
	assert.Equal(t, "A described work", result.Metadata.Description)
}

func TestHTMLBundleConventionalRootAssets(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	// 根目录下的惯例文件即使未被引用也要提取
	data := buildZip(t, map[string]string{
		"index.html": `<html><head><title>Plain</title></head><body><h1>Only</h1><p>text</p></body></html>`,
		"style.css":  "body { margin: 0 }",
		"cover.jpg":  "\xff\xd8fake",
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "bundle.zip", Data: data})
	require.NoError(t, err)

	require.Len(t, result.Assets, 2)
	assert.True(t, strings.Contains(result.CoverPath, "cover"))
	for _, a := range result.Assets {
		if a.Type == types.AssetTypeImage {
			assert.True(t, a.IsCoverImage)
		}
	}
}

func TestHTMLBundleZipWithoutHTML(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	data := buildZip(t, map[string]string{"notes.txt": "nope"})
	_, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "bundle.zip", Data: data})
	assert.True(t, apperrors.Is(err, apperrors.ErrParseFailed))
}

func TestHTMLBundleWordCountAndReadingTime(t *testing.T) {
	store, log := newTestParser(t)
	p := NewHTMLBundleParser(store, log)

	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	doc := `<html><head><title>Counted</title></head><body><p>` + strings.Join(words, " ") + `</p></body></html>`

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "c.html", Data: []byte(doc)})
	require.NoError(t, err)

	assert.Equal(t, 200, result.WordCount)
	assert.Equal(t, 1, result.ReadingTime)
}

func TestMarkdownParserHeadings(t *testing.T) {
	store, log := newTestParser(t)
	p := NewMarkdownParser(store, log)

	md := "# First\n\nsome text\n\n# Second\n\nmore text\n"

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "notes.md", Data: []byte(md)})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 2)
	assert.Equal(t, "First", result.Chapters[0].Title)
	assert.Equal(t, "Second", result.Chapters[1].Title)
	assert.Contains(t, result.Chapters[1].Content, "more text")
}

func TestParserFactory(t *testing.T) {
	store, log := newTestParser(t)

	for _, format := range []types.BookFormat{types.FormatEPUB, types.FormatHTML, types.FormatMarkdown} {
		p, err := New(format, store, log)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}

	_, err := New(types.BookFormat("pdf"), store, log)
	assert.True(t, apperrors.Is(err, apperrors.ErrBookInvalidFileType))
}
