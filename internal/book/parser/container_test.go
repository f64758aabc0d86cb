package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	apperrors "github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

func newTestParser(t *testing.T) (*storage.LocalStore, *logger.Logger) {
	t.Helper()

	base := t.TempDir()
	log, err := logger.New(nil)
	require.NoError(t, err)

	store, err := storage.NewLocalStore(&storage.Config{
		CoverRoot:  filepath.Join(base, "covers"),
		AssetRoot:  filepath.Join(base, "assets"),
		TempRoot:   filepath.Join(base, "temp"),
		SigningKey: "test-secret",
		TokenTTL:   15 * time.Minute,
	}, log)
	require.NoError(t, err)

	return store, log
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func testOPF(spineItems []string, extra string) string {
	var manifest, spine strings.Builder
	for i, href := range spineItems {
		manifest.WriteString(`<item id="ch` + string(rune('1'+i)) + `" href="` + href + `" media-type="application/xhtml+xml"/>`)
		spine.WriteString(`<itemref idref="ch` + string(rune('1'+i)) + `"/>`)
	}
	return `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="2.0">
  <metadata>
    <dc:title>The Test Book</dc:title>
    <dc:creator>Jane Roe</dc:creator>
    <dc:language>fr</dc:language>
    <dc:identifier>urn:isbn:12345</dc:identifier>
  </metadata>
  <manifest>` + manifest.String() + extra + `</manifest>
  <spine toc="ncx">` + spine.String() + `</spine>
</package>`
}

func chapterDoc(title, body string) string {
	return `<html><head><title>` + title + `</title></head><body><h1>` + title + `</h1><p>` + body + `</p></body></html>`
}

func TestContainerParserSpineChapters(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF([]string{"ch1.xhtml", "ch2.xhtml", "ch3.xhtml"}, ""),
		"OEBPS/ch1.xhtml":        chapterDoc("One", "first chapter body"),
		"OEBPS/ch2.xhtml":        chapterDoc("Two", "second chapter body"),
		"OEBPS/ch3.xhtml":        chapterDoc("Three", "third chapter body"),
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "book.epub", Data: data})
	require.NoError(t, err)

	require.Len(t, result.Chapters, 3)
	assert.Equal(t, 1, result.Chapters[0].Number)
	assert.Equal(t, "One", result.Chapters[0].Title)
	assert.Equal(t, "Three", result.Chapters[2].Title)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "The Test Book", result.Metadata.Title)
	assert.Equal(t, "Jane Roe", result.Metadata.Author)
	assert.Equal(t, "fr", result.Metadata.Language)
	assert.Equal(t, "urn:isbn:12345", result.Metadata.Identifier)

	// 没有导航文件时按章节合成目录
	require.Len(t, result.TOC, 3)
	assert.Equal(t, "Two", result.TOC[1].Title)

	total := 0
	for _, ch := range result.Chapters {
		total += ch.WordCount
	}
	assert.Equal(t, total, result.WordCount)
	assert.Greater(t, result.ReadingTime, 0)
}

func TestContainerParserMissingChapterSoftSkip(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF([]string{"ch1.xhtml", "gone.xhtml", "ch3.xhtml"}, ""),
		"OEBPS/ch1.xhtml":        chapterDoc("One", "first"),
		"OEBPS/ch3.xhtml":        chapterDoc("Three", "third"),
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "book.epub", Data: data})
	require.NoError(t, err)

	assert.Len(t, result.Chapters, 2)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "gone.xhtml")
	// 编号保持连续
	assert.Equal(t, 2, result.Chapters[1].Number)
}

func TestContainerParserMetadataPlaceholders(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata/>
  <manifest><item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/></manifest>
  <spine><itemref idref="ch1"/></spine>
</package>`

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      opf,
		"OEBPS/ch1.xhtml":        chapterDoc("One", "body"),
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "book.epub", Data: data})
	require.NoError(t, err)

	assert.Equal(t, "Unknown Title", result.Metadata.Title)
	assert.Equal(t, "Unknown Author", result.Metadata.Author)
	assert.Equal(t, "en", result.Metadata.Language)
}

func TestContainerParserAssetsAndCover(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	extra := `<item id="cover-img" href="images/cover.jpg" media-type="image/jpeg"/>` +
		`<item id="style" href="style.css" media-type="text/css"/>`
	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF([]string{"ch1.xhtml"}, extra),
		"OEBPS/ch1.xhtml":        `<html><body><h1>One</h1><img src="images/cover.jpg"/></body></html>`,
		"OEBPS/images/cover.jpg": "\xff\xd8fakejpeg",
		"OEBPS/style.css":        "body { margin: 0 }",
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "book.epub", Data: data})
	require.NoError(t, err)

	require.Len(t, result.Assets, 2)
	assert.NotEmpty(t, result.CoverPath)

	var cover *types.ParsedAsset
	for i := range result.Assets {
		if result.Assets[i].IsCoverImage {
			cover = &result.Assets[i]
		}
	}
	require.NotNil(t, cover)
	assert.Equal(t, types.AssetTypeImage, cover.Type)
	assert.Equal(t, cover.StoredPath, result.CoverPath)

	// 章节里的资源引用被重写为签名 URL
	require.Len(t, result.Chapters, 1)
	assert.Contains(t, result.Chapters[0].Content, assetURLPrefix)
	assert.NotContains(t, result.Chapters[0].Content, `src="images/cover.jpg"`)
}

func TestContainerParserNCXTitles(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	ncx := `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>Opening Moves</text></navLabel><content src="ch1.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>Endgame</text></navLabel><content src="ch2.xhtml#part2"/>
      <navPoint id="n3"><navLabel><text>Notes</text></navLabel><content src="ch2.xhtml#notes"/></navPoint>
    </navPoint>
  </navMap>
</ncx>`

	extra := `<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`
	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF([]string{"ch1.xhtml", "ch2.xhtml"}, extra),
		"OEBPS/ch1.xhtml":        chapterDoc("ignored", "first"),
		"OEBPS/ch2.xhtml":        chapterDoc("ignored", "second"),
		"OEBPS/toc.ncx":          ncx,
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Filename: "book.epub", Data: data})
	require.NoError(t, err)

	require.Len(t, result.TOC, 3)
	assert.Equal(t, "Opening Moves", result.TOC[0].Title)
	assert.Equal(t, 1, result.TOC[0].Level)
	assert.Equal(t, 2, result.TOC[2].Level)
	assert.Equal(t, "part2", result.TOC[1].Anchor)

	// 章节标题来自导航条目
	require.Len(t, result.Chapters, 2)
	assert.Equal(t, "Opening Moves", result.Chapters[0].Title)
	assert.Equal(t, "Endgame", result.Chapters[1].Title)
}

func TestContainerParserNotZip(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	_, err := p.Parse(context.Background(), Input{BookID: "b1", Data: []byte("plain text")})
	assert.True(t, apperrors.Is(err, apperrors.ErrParseInvalidContainer))
}

func TestContainerParserMissingContainerXML(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	data := buildZip(t, map[string]string{"mimetype": "application/epub+zip"})
	_, err := p.Parse(context.Background(), Input{BookID: "b1", Data: data})
	assert.True(t, apperrors.Is(err, apperrors.ErrParseInvalidContainer))
}

func TestContainerParserMissingSpine(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata/>
  <manifest/>
  <spine/>
</package>`

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      opf,
	})
	_, err := p.Parse(context.Background(), Input{BookID: "b1", Data: data})
	assert.True(t, apperrors.Is(err, apperrors.ErrParseMissingSpine))
}

func TestContainerParserTraversalHref(t *testing.T) {
	store, log := newTestParser(t)
	p := NewContainerParser(store, log)

	data := buildZip(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF([]string{"ch1.xhtml", "../../etc/passwd"}, ""),
		"OEBPS/ch1.xhtml":        chapterDoc("One", "body"),
	})

	result, err := p.Parse(context.Background(), Input{BookID: "b1", Data: data})
	require.NoError(t, err)

	assert.Len(t, result.Chapters, 1)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "unsafe")
}
