package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// maxEntrySize 单个压缩条目解压上限，防止 zip 炸弹
const maxEntrySize = 64 << 20 // 64 MiB

// isZip 判断字节流是否为 ZIP 归档
func isZip(data []byte) bool {
	return len(data) >= 4 && bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// openZip 从内存字节打开 ZIP 归档
func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

// readZipFile 读取归档内指定条目，限制解压大小
func readZipFile(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %q: %w", name, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("read zip entry %q: %w", name, err)
		}
		if len(data) > maxEntrySize {
			return nil, fmt.Errorf("zip entry %q exceeds size limit", name)
		}

		return stripBOM(data), nil
	}

	return nil, fmt.Errorf("zip entry %q not found", name)
}

// resolveRelativePath 相对某个目录解析 href，拒绝逃出归档根的路径
func resolveRelativePath(baseDir, href string) (string, error) {
	// 去掉锚点和查询串
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}

	resolved := path.Clean(path.Join(baseDir, href))
	if !isSafePath(resolved) {
		return "", fmt.Errorf("href %q escapes archive root", href)
	}

	return resolved, nil
}

// isSafePath 归档内路径不允许绝对路径或上跳段
func isSafePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
