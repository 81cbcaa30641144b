// Package chunker splits document text into bounded, overlapping
// character windows aligned to sentence boundaries.
//
// The embedding model tokenizes with BERT WordPiece, whose chars-per-token
// ratio is language-dependent (worst case ≈ 1.2 chars/token). Sizes are
// therefore expressed in characters, with a hard ceiling that keeps every
// chunk inside the model's context window regardless of language or
// configured target.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxChunkChars is the hard ceiling. 2048-token context × 1.2 chars/token
// ≈ 2,457 chars; 2000 leaves a safety margin.
const MaxChunkChars = 2000

// Chunk is one bounded window of document text.
type Chunk struct {
	Index     int
	Text      string
	CharCount int
}

// Split cuts text into chunks of at most min(target, MaxChunkChars)
// characters, each seeded with a word-aligned tail of its predecessor up
// to overlap characters. Sentences longer than the ceiling are hard-split
// on word boundaries. Empty or whitespace-only input yields no chunks.
func Split(text string, target, overlap int) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if target > MaxChunkChars {
		target = MaxChunkChars
	}

	var (
		chunks  []Chunk
		current []string
		chars   int
	)

	flush := func() string {
		joined := strings.Join(current, " ")
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      joined,
			CharCount: utf8.RuneCountInString(joined),
		})
		current = nil
		chars = 0
		return joined
	}

	for _, sentence := range splitSentences(trimmed) {
		sentLen := utf8.RuneCountInString(sentence)

		if sentLen > MaxChunkChars {
			if len(current) > 0 {
				flush()
			}
			current, chars = hardSplit(sentence, &chunks)
			continue
		}

		if chars+sentLen+1 > target && len(current) > 0 {
			flushed := flush()
			current, chars = overlapTail(flushed, overlap)
			// The seed never pushes a chunk past the ceiling.
			if chars+sentLen+1 > MaxChunkChars {
				current, chars = nil, 0
			}
		}

		current = append(current, sentence)
		chars += sentLen
		if len(current) > 1 {
			chars++
		}
	}

	if len(current) > 0 {
		flush()
	}

	return chunks
}

// Truncate caps text at max runes, backing up to the last word boundary
// inside the cut when one exists. Trailing whitespace is trimmed.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	cut := runes[:max]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace)
}

// splitSentences cuts after each terminator that is followed by
// whitespace, consuming the whitespace run.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				sentences = append(sentences, string(runes[start:i+1]))
				j := i + 1
				for j < len(runes) && unicode.IsSpace(runes[j]) {
					j++
				}
				start = j
				i = j - 1
			}
		}
	}

	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// hardSplit cuts an oversized sentence into ceiling-sized pieces on word
// boundaries, appending every full piece to chunks. The unfinished tail
// is returned so it can keep accumulating with the following sentences.
func hardSplit(sentence string, chunks *[]Chunk) ([]string, int) {
	emit := func(words []string) {
		joined := strings.Join(words, " ")
		*chunks = append(*chunks, Chunk{
			Index:     len(*chunks),
			Text:      joined,
			CharCount: utf8.RuneCountInString(joined),
		})
	}

	var (
		buf      []string
		bufChars int
	)

	for _, word := range strings.Fields(sentence) {
		wordLen := utf8.RuneCountInString(word)

		// A single word past the ceiling cannot break on a boundary;
		// cut it into ceiling-sized rune slices.
		if wordLen > MaxChunkChars {
			if len(buf) > 0 {
				emit(buf)
				buf, bufChars = nil, 0
			}
			runes := []rune(word)
			for len(runes) > MaxChunkChars {
				emit([]string{string(runes[:MaxChunkChars])})
				runes = runes[MaxChunkChars:]
			}
			if len(runes) > 0 {
				buf = []string{string(runes)}
				bufChars = len(runes)
			}
			continue
		}

		added := wordLen
		if len(buf) > 0 {
			added++
		}
		if bufChars+added > MaxChunkChars && len(buf) > 0 {
			emit(buf)
			buf, bufChars = nil, 0
			added = wordLen
		}
		buf = append(buf, word)
		bufChars += added
	}

	return buf, bufChars
}

// overlapTail collects whole words from the end of the previous chunk up
// to the overlap budget, preserving their order.
func overlapTail(chunk string, overlap int) ([]string, int) {
	if overlap <= 0 {
		return nil, 0
	}

	words := strings.Fields(chunk)
	var (
		tail  []string
		chars int
	)
	for i := len(words) - 1; i >= 0; i-- {
		added := utf8.RuneCountInString(words[i])
		if len(tail) > 0 {
			added++
		}
		if chars+added > overlap {
			break
		}
		tail = append(tail, words[i])
		chars += added
	}

	// Collected back to front; restore reading order.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail, chars
}
