package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Split(tt.text, 500, 50))
		})
	}
}

func TestSplitSingleSentence(t *testing.T) {
	chunks := Split("The quarterly budget was approved.", 500, 50)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "The quarterly budget was approved.", chunks[0].Text)
	assert.Equal(t, utf8.RuneCountInString(chunks[0].Text), chunks[0].CharCount)
}

func TestSplitAccumulatesUpToTarget(t *testing.T) {
	text := "One two three four. Five six seven eight. Nine ten eleven twelve."
	chunks := Split(text, 45, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, "One two three four. Five six seven eight.", chunks[0].Text)
	assert.Equal(t, "Nine ten eleven twelve.", chunks[1].Text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplitOverlapSeedsNextChunk(t *testing.T) {
	text := "Alpha beta gamma delta epsilon. Zeta eta theta iota kappa."
	chunks := Split(text, 35, 12)

	require.Len(t, chunks, 2)
	// Tail words of the first chunk reappear at the head of the second.
	assert.True(t, strings.HasPrefix(chunks[1].Text, "epsilon. Zeta"),
		"second chunk %q should start with the overlap seed", chunks[1].Text)
}

func TestSplitRespectsCeiling(t *testing.T) {
	// One sentence far beyond the ceiling, no internal terminators.
	long := strings.Repeat("word ", 1200) + "end."
	chunks := Split(long, 5000, 100)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, MaxChunkChars)
	}
}

func TestSplitUnbreakableWord(t *testing.T) {
	word := strings.Repeat("x", MaxChunkChars+500)
	chunks := Split(word+" tail.", 1000, 0)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, MaxChunkChars)
	}
}

func TestSplitIndicesContiguous(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("A sentence that carries a reasonable amount of text for grouping purposes. ")
	}
	chunks := Split(b.String(), 400, 80)

	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.CharCount, MaxChunkChars)
		assert.Equal(t, utf8.RuneCountInString(c.Text), c.CharCount)
	}
}

func TestSplitSeedDoesNotExceedCeiling(t *testing.T) {
	// A short first sentence leaves a non-empty overlap seed; the next
	// sentence nearly fills the ceiling on its own. The seed must be
	// dropped rather than push the chunk past the ceiling.
	first := strings.Repeat("word ", 50) + "done."
	second := strings.Repeat("n", 1950) + "."
	chunks := Split(first+" "+second, 2000, 300)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, MaxChunkChars)
	}
}

func TestSplitMultibyteCounting(t *testing.T) {
	// Characters are counted as runes, not bytes.
	text := strings.Repeat("ä", 100) + "."
	chunks := Split(text, 500, 0)

	require.Len(t, chunks, 1)
	assert.Equal(t, 101, chunks[0].CharCount)
}

func TestSplitSentenceBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "period",
			text: "First. Second.",
			want: []string{"First.", "Second."},
		},
		{
			name: "exclamation and question",
			text: "Really! Sure? Yes.",
			want: []string{"Really!", "Sure?", "Yes."},
		},
		{
			name: "no terminator",
			text: "no terminator at all",
			want: []string{"no terminator at all"},
		},
		{
			name: "terminator without space",
			text: "v1.2 is out. Done.",
			want: []string{"v1.2 is out.", "Done."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"under limit", "short text", 100, "short text"},
		{"exact limit", "abcde", 5, "abcde"},
		{"word boundary", "alpha beta gamma", 12, "alpha beta"},
		{"no boundary inside cut", "abcdefghij", 5, "abcde"},
		{"zero max", "anything", 0, ""},
		{"multibyte runes", strings.Repeat("ä", 10), 4, "ääää"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.max))
		})
	}
}
