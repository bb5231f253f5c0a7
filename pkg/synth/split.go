package synth

import (
	"strings"
	"unicode"
)

// SplitText breaks text into clips of at most limit runes, preferring
// sentence boundaries so each clip reads as coherent speech. A single
// sentence longer than the limit is split on word boundaries, and as a
// last resort mid-word.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var clips []string
	var current []rune

	flush := func() {
		s := strings.TrimSpace(string(current))
		if s != "" {
			clips = append(clips, s)
		}
		current = current[:0]
	}

	for _, sentence := range splitSentences(text) {
		runes := []rune(sentence)
		if len(current)+len(runes)+1 > limit && len(current) > 0 {
			flush()
		}
		if len(runes) > limit {
			for _, piece := range splitLong(runes, limit) {
				clips = append(clips, piece)
			}
			continue
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	flush()

	return clips
}

// splitSentences cuts text after sentence-ending punctuation or newlines,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current []rune

	runes := []rune(text)
	for i, r := range runes {
		current = append(current, r)
		if isSentenceEnd(r) {
			// Swallow a run of terminators ("...", "?!").
			if i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
				continue
			}
			if s := strings.TrimSpace(string(current)); s != "" {
				sentences = append(sentences, s)
			}
			current = current[:0]
		}
	}
	if s := strings.TrimSpace(string(current)); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
}

// splitLong breaks one over-long sentence on spaces, hard-cutting words
// that alone exceed the limit.
func splitLong(runes []rune, limit int) []string {
	var pieces []string
	var current []rune

	flush := func() {
		s := strings.TrimSpace(string(current))
		if s != "" {
			pieces = append(pieces, s)
		}
		current = current[:0]
	}

	words := strings.FieldsFunc(string(runes), unicode.IsSpace)
	for _, word := range words {
		wr := []rune(word)
		for len(wr) > limit {
			flush()
			pieces = append(pieces, string(wr[:limit]))
			wr = wr[limit:]
		}
		if len(current)+len(wr)+1 > limit && len(current) > 0 {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, wr...)
	}
	flush()

	return pieces
}
