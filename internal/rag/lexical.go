package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minPrefixRunes is the shortest Hangul stem allowed to match by prefix, so
// "인공지능" matches "인공지능은" but a single syllable does not match everything.
const minPrefixRunes = 2

// LexicalScore is the deterministic fallback similarity: the fraction of
// distinct query terms that occur in text. Hangul terms also match when one
// is a prefix of the other (at least two syllables), which absorbs attached
// particles such as 은/는/이/가. The result is in [0,1] and is not comparable
// with cosine similarity.
func LexicalScore(query, text string) float64 {
	qTerms := terms(query)
	if len(qTerms) == 0 {
		return 0
	}
	tTerms := terms(text)
	if len(tTerms) == 0 {
		return 0
	}

	matched := 0
	for q := range qTerms {
		if _, ok := tTerms[q]; ok {
			matched++
			continue
		}
		if !isHangul(q) {
			continue
		}
		for t := range tTerms {
			if hangulPrefixMatch(q, t) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(qTerms))
}

// terms lower-cases s and splits it into distinct letter/digit runs.
func terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}

func isHangul(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.Is(unicode.Hangul, r)
}

func hangulPrefixMatch(a, b string) bool {
	if !isHangul(b) {
		return false
	}
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	return utf8.RuneCountInString(short) >= minPrefixRunes && strings.HasPrefix(long, short)
}
