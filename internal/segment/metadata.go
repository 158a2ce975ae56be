package segment

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/54b3r/pagerag/internal/rag"
)

// wordsPerMinute is the reading speed used for EstimatedReadTime.
const wordsPerMinute = 200

// maxHeadingRunes is the longest first line still treated as a heading when
// it carries no other heading marker.
const maxHeadingRunes = 50

var (
	hangulRun     = regexp.MustCompile(`[가-힣]+`)
	latinRun      = regexp.MustCompile(`[A-Za-z]+`)
	sentenceSplit = regexp.MustCompile(`[.!?。]+`)
	numbered      = regexp.MustCompile(`^(\d+(\.\d+)*[.)]?|[IVX]+\.|제\s*\d+\s*[장절편])\s`)
)

func (s *Segmenter) describe(content string, index int) rag.SegmentMetadata {
	words := WordCount(content)
	minutes := ReadTime(words)
	return rag.SegmentMetadata{
		Section:           s.section(content, index),
		WordCount:         &words,
		EstimatedReadTime: &minutes,
		Difficulty:        Difficulty(content),
	}
}

// WordCount counts Hangul syllable-block runs plus Latin word runs.
func WordCount(text string) int {
	return len(hangulRun.FindAllStringIndex(text, -1)) + len(latinRun.FindAllStringIndex(text, -1))
}

// ReadTime returns ceil(words / 200) minutes.
func ReadTime(words int) int {
	return int(math.Ceil(float64(words) / wordsPerMinute))
}

// Difficulty grades text as hard when the average sentence exceeds 15 words
// or more than 30% of its characters are Han ideographs, medium above 10
// words or 10%, and easy otherwise.
func Difficulty(text string) rag.Difficulty {
	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	avg := float64(WordCount(text)) / float64(max(sentences, 1))

	var han, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(han) / float64(total)
	}

	switch {
	case avg > 15 || ratio > 0.3:
		return rag.DifficultyHard
	case avg > 10 || ratio > 0.1:
		return rag.DifficultyMedium
	default:
		return rag.DifficultyEasy
	}
}

// section returns the first line when it looks like a heading, otherwise a
// clock-based label.
func (s *Segmenter) section(content string, index int) string {
	first, rest, multiline := strings.Cut(strings.TrimSpace(content), "\n")
	first = strings.TrimSpace(first)
	if isHeading(first, multiline && strings.TrimSpace(rest) != "") {
		return strings.TrimSuffix(first, ":")
	}
	return fmt.Sprintf("Section %s-%d", s.now().Format("20060102150405"), index+1)
}

func isHeading(line string, hasBody bool) bool {
	if line == "" || utf8.RuneCountInString(line) > 2*maxHeadingRunes {
		return false
	}
	if numbered.MatchString(line) || strings.HasSuffix(line, ":") {
		return true
	}
	if !hasBody || utf8.RuneCountInString(line) > maxHeadingRunes {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(line)
	return !strings.ContainsRune(".!?。", last)
}
