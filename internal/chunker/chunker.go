// Package chunker splits segment text into overlapping, word-aligned chunks
// sized for a single embedding request.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// Defaults used by the write path when no override is configured.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundaryFloor is the fraction of the window below which the splitter will
// not back off looking for a space.
const boundaryFloor = 0.8

var (
	horizontalSpace = regexp.MustCompile(`[^\S\n]+`)
	newlineRun      = regexp.MustCompile(` ?\n\s*`)
)

// Split walks text in windows of size runes. When a window ends strictly
// inside the text the boundary backs off to the last space at or after
// 0.8×size so a word is not severed. The next window starts overlap runes
// before the previous boundary, so consecutive chunks share at most overlap
// runes and never leave a gap. Chunks that are empty after trimming are
// dropped and the walk ends once a window reaches the end of the text.
//
// An overlap outside [0, size) is treated as zero.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []string

	for start := 0; start < n; {
		end := min(start+size, n)
		if end < n {
			floor := start + int(float64(size)*boundaryFloor)
			for i := end - 1; i >= floor && i > start; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i
					break
				}
			}
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + size - overlap
		}
		start = next
	}
	return chunks
}

// Preprocess normalises text before it is chunked and embedded: runs of
// horizontal whitespace become one space, runs of newlines (and the blanks
// around them) become one newline, the result is trimmed, and finally it is
// truncated to maxChars runes. A maxChars <= 0 disables truncation.
func Preprocess(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)

	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = strings.TrimSpace(string(runes[:maxChars]))
		}
	}
	return text
}
