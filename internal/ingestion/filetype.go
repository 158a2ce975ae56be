package ingestion

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/54b3r/pagerag/internal/segment"
)

// knownFileTypes are the attachment types the extractor understands.
var knownFileTypes = map[string]bool{
	"pdf":  true,
	"ppt":  true,
	"pptx": true,
	"docx": true,
	"html": true,
	"md":   true,
	"txt":  true,
}

// typeAliases folds equivalent extensions onto one type name.
var typeAliases = map[string]string{
	"htm":      "html",
	"xhtml":    "html",
	"markdown": "md",
	"text":     "txt",
}

// InferFileType returns the best-effort file type of an attachment from its
// name, storage key, or URL. Query strings and fragments (e.g. presigned URL
// signatures) are ignored. An unrecognised or missing extension yields "".
func InferFileType(name string) string {
	p := strings.TrimSpace(name)
	if p == "" {
		return ""
	}
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	return canonicalType(path.Ext(p))
}

// InferFileTypeFromMIME maps an HTTP Content-Type header to a file type.
// Parameters such as charset are ignored.
func InferFileTypeFromMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return "html"
	case "text/markdown":
		return "md"
	}
	return canonicalType(mt)
}

func canonicalType(s string) string {
	ft := segment.NormalizeFileType(s)
	if alias, ok := typeAliases[ft]; ok {
		ft = alias
	}
	if !knownFileTypes[ft] {
		return ""
	}
	return ft
}
