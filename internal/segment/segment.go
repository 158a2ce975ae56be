// Package segment splits raw page content into ordered, metadata-tagged
// segments. Text is split with a recursive separator cascade; extracted file
// text from multi-page documents is sliced per original page; pages that
// combine prose and an attached document interleave both sources.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/54b3r/pagerag/internal/chunker"
	"github.com/54b3r/pagerag/internal/rag"
)

// ErrInvalid is returned by [Validate] when a segment set breaks a
// post-condition of segmentation.
var ErrInvalid = errors.New("invalid segment")

// separators is the priority-ordered cascade used for text segmentation:
// paragraphs, lines, sentence terminators, punctuation, whitespace, then
// single characters.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "。", "; ", ", ", " ", ""}

// multiPageTypes are file types whose extracted text can be divided back into
// the document's original pages.
var multiPageTypes = map[string]bool{
	"pdf":  true,
	"ppt":  true,
	"pptx": true,
}

// Options controls text segmentation.
type Options struct {
	// ChunkSize is the target segment length in runes (default 1000).
	ChunkSize int
	// ChunkOverlap is the overlap between neighbouring segments (default 200).
	ChunkOverlap int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
		if o.ChunkOverlap == 0 {
			o.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = min(chunker.DefaultChunkOverlap, o.ChunkSize/5)
	}
	return o
}

// Segmenter turns page content into segments. The zero value is not usable;
// construct with [New].
type Segmenter struct {
	now func() time.Time
	log *slog.Logger
}

// New returns a Segmenter. A nil logger falls back to [slog.Default].
func New(log *slog.Logger) *Segmenter {
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{now: time.Now, log: log}
}

// WithClock replaces the clock used for fallback section labels.
func (s *Segmenter) WithClock(now func() time.Time) *Segmenter {
	s.now = now
	return s
}

// Text splits authored page text into segments of content type TEXT.
// Empty input yields no segments and no error.
func (s *Segmenter) Text(text string, opts Options) ([]rag.Segment, error) {
	return s.split(text, opts, rag.ContentText)
}

// File segments text extracted from an attached file. When fileType is a
// multi-page format and originalPageCount is known (> 0), the text is divided
// into originalPageCount equal rune-length slices, one segment per page;
// otherwise it is split like prose with content type FILE.
func (s *Segmenter) File(extracted, fileType string, originalPageCount int, opts Options) ([]rag.Segment, error) {
	ft := NormalizeFileType(fileType)
	if !multiPageTypes[ft] || originalPageCount <= 0 {
		return s.split(extracted, opts, rag.ContentFile)
	}

	runes := []rune(extracted)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	per := (n + originalPageCount - 1) / originalPageCount

	segments := make([]rag.Segment, 0, originalPageCount)
	for page := 0; page < originalPageCount; page++ {
		start := page * per
		if start >= n {
			break
		}
		end := min(start+per, n)
		content := strings.TrimSpace(string(runes[start:end]))
		if content == "" {
			continue
		}
		seg := s.newSegment(content, rag.ContentFile, start, end, len(segments))
		seg.Metadata.PageNumber = page + 1
		segments = append(segments, seg)
	}

	s.log.Debug("segment: file split by page",
		slog.String("file_type", ft),
		slog.Int("pages", originalPageCount),
		slog.Int("segments", len(segments)),
	)
	return segments, nil
}

// Mixed segments a page that combines prose with an attached file. Text and
// file segments are interleaved one-for-one (leftovers appended), every
// segment is tagged MIXED with its origin in Metadata.Source, and PageNumber
// is renumbered 1..n across the interleaved sequence.
func (s *Segmenter) Mixed(text, fileText, fileType string, opts Options) ([]rag.Segment, error) {
	textSegs, err := s.Text(text, opts)
	if err != nil {
		return nil, err
	}
	fileSegs, err := s.File(fileText, fileType, 0, opts)
	if err != nil {
		return nil, err
	}

	out := make([]rag.Segment, 0, len(textSegs)+len(fileSegs))
	for i := 0; i < max(len(textSegs), len(fileSegs)); i++ {
		if i < len(textSegs) {
			seg := textSegs[i]
			seg.Metadata.Source = "text"
			out = append(out, seg)
		}
		if i < len(fileSegs) {
			seg := fileSegs[i]
			seg.Metadata.Source = "file"
			out = append(out, seg)
		}
	}
	for i := range out {
		out[i].ContentType = rag.ContentMixed
		out[i].Metadata.PageNumber = i + 1
	}
	return out, nil
}

func (s *Segmenter) split(text string, opts Options, ct rag.ContentType) ([]rag.Segment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	opts = opts.withDefaults()

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(separators),
		textsplitter.WithChunkSize(opts.ChunkSize),
		textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("segment: split text: %w", err)
	}

	segments := make([]rag.Segment, 0, len(pieces))
	cursor, offset := 0, 0
	for _, piece := range pieces {
		content := strings.TrimSpace(piece)
		if content == "" {
			continue
		}
		start, end, next := locate(text, content, cursor, offset)
		cursor = next
		offset = end
		seg := s.newSegment(content, ct, start, end, len(segments))
		seg.Metadata.PageNumber = len(segments) + 1
		segments = append(segments, seg)
	}

	s.log.Debug("segment: text split",
		slog.String("content_type", string(ct)),
		slog.Int("chars", utf8.RuneCountInString(text)),
		slog.Int("segments", len(segments)),
	)
	return segments, nil
}

// locate finds content in text at or after the byte cursor and returns its
// rune span plus the byte cursor for the next search. Pieces the splitter
// rewrote (and so cannot be found verbatim) are placed at the running offset.
func locate(text, content string, cursor, offset int) (start, end, next int) {
	length := utf8.RuneCountInString(content)
	if i := strings.Index(text[cursor:], content); i >= 0 {
		at := cursor + i
		start = utf8.RuneCountInString(text[:at])
		_, size := utf8.DecodeRuneInString(text[at:])
		return start, start + length, at + size
	}
	return offset, offset + length, cursor
}

func (s *Segmenter) newSegment(content string, ct rag.ContentType, start, end, index int) rag.Segment {
	return rag.Segment{
		ID:          uuid.NewString(),
		Content:     content,
		ContentType: ct,
		StartIndex:  start,
		EndIndex:    end,
		Metadata:    s.describe(content, index),
	}
}

// NormalizeFileType maps an extension (".PDF"), bare type ("pdf"), or MIME
// type ("application/pdf") to a lower-case type name.
func NormalizeFileType(fileType string) string {
	ft := strings.ToLower(strings.TrimSpace(fileType))
	if i := strings.LastIndex(ft, "/"); i >= 0 {
		ft = ft[i+1:]
	}
	ft = strings.TrimPrefix(ft, ".")
	switch ft {
	case "vnd.ms-powerpoint":
		return "ppt"
	case "vnd.openxmlformats-officedocument.presentationml.presentation":
		return "pptx"
	case "vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "plain":
		return "txt"
	}
	return ft
}

// Validate rejects segment sets where any segment has empty trimmed content,
// a non-positive span, or missing word count or reading time.
func Validate(segments []rag.Segment) error {
	for i, seg := range segments {
		switch {
		case strings.TrimSpace(seg.Content) == "":
			return fmt.Errorf("segment %d (%s): empty content: %w", i, seg.ID, ErrInvalid)
		case seg.EndIndex <= seg.StartIndex:
			return fmt.Errorf("segment %d (%s): span [%d,%d) is not positive: %w", i, seg.ID, seg.StartIndex, seg.EndIndex, ErrInvalid)
		case seg.Metadata.WordCount == nil:
			return fmt.Errorf("segment %d (%s): word count missing: %w", i, seg.ID, ErrInvalid)
		case seg.Metadata.EstimatedReadTime == nil:
			return fmt.Errorf("segment %d (%s): reading time missing: %w", i, seg.ID, ErrInvalid)
		}
	}
	return nil
}
