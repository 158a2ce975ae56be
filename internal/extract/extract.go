// Package extract turns an attached course file into the plain text the
// segmenter consumes. It is the upstream helper used by the CLI and server
// when a page's file text has not already been extracted by the portal.
//
// Supported types are pdf, pptx, docx, html, md and txt. Legacy binary ppt is
// recognised but cannot be extracted.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/pagerag/internal/segment"
)

// ErrUnsupported is returned for file types that have no extractor.
var ErrUnsupported = errors.New("extract: unsupported file type")

// Result is the extracted text of one file.
type Result struct {
	// Text is the extracted plain text.
	Text string
	// FileType is the canonical type the text was extracted as.
	FileType string
	// Pages is the page or slide count for multi-page formats, 0 otherwise.
	Pages int
}

// Bytes extracts text from data, interpreting it as fileType. The type is
// normalised first, so "PDF" and ".pdf" are accepted.
func Bytes(data []byte, fileType string) (*Result, error) {
	ft := segment.NormalizeFileType(fileType)
	var (
		text  string
		pages int
		err   error
	)
	switch ft {
	case "pdf":
		text, pages, err = pdfText(data)
	case "pptx":
		text, pages, err = pptxText(data)
	case "docx":
		text, err = docxText(data)
	case "html", "htm":
		ft = "html"
		text, err = htmlText(data)
	case "md", "markdown":
		ft = "md"
		text = markdownText(data)
	case "txt", "text", "":
		ft = "txt"
		text, err = plainText(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, fileType)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", ft, err)
	}
	return &Result{Text: tidy(text), FileType: ft, Pages: pages}, nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(data), nil
}

// tidy collapses whitespace within each line and runs of blank lines to
// one, so paragraph breaks survive for the segmenter.
func tidy(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
