package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words builds a space-separated string of n distinct words.
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func smallConfig() Config {
	return Config{
		ChunkSize:    50,
		ChunkOverlap: 10,
		MaxChunkSize: 80,
		MinChunkSize: 10,
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	assert.Nil(t, Chunk("", smallConfig()))
	assert.Nil(t, Chunk("   \n\t  ", smallConfig()))
}

func TestChunk_ShortDocumentSingleChunk(t *testing.T) {
	// Shorter than MinChunkSize still produces one chunk.
	content := "just a few words here"
	spans := Chunk(content, smallConfig())

	require.Len(t, spans, 1)
	assert.Equal(t, content, spans[0].Text)
	assert.Equal(t, 0, spans[0].Ordinal)
	assert.Equal(t, 0, spans[0].StartOffset)
	assert.Equal(t, len(content), spans[0].EndOffset)
	assert.Equal(t, 5, spans[0].TokenCount)
}

func TestChunk_Deterministic(t *testing.T) {
	content := words(500)
	a := Chunk(content, smallConfig())
	b := Chunk(content, smallConfig())
	assert.Equal(t, a, b)
}

func TestChunk_OffsetsMonotonicAndExact(t *testing.T) {
	content := words(500)
	spans := Chunk(content, smallConfig())
	require.NotEmpty(t, spans)

	for i, s := range spans {
		assert.Equal(t, i, s.Ordinal)
		assert.True(t, s.StartOffset < s.EndOffset)
		assert.Equal(t, content[s.StartOffset:s.EndOffset], s.Text)
		if i > 0 {
			assert.Greater(t, s.StartOffset, spans[i-1].StartOffset,
				"start offsets must strictly increase")
		}
	}

	// Last span ends at the last token.
	assert.Equal(t, len(content), spans[len(spans)-1].EndOffset)
}

func TestChunk_RespectsTokenBudget(t *testing.T) {
	content := words(1000)
	cfg := smallConfig()
	spans := Chunk(content, cfg)

	for _, s := range spans {
		assert.LessOrEqual(t, s.TokenCount, cfg.MaxChunkSize)
		assert.LessOrEqual(t, s.TokenCount, cfg.ChunkSize)
	}
}

func TestChunk_OverlapBetweenAdjacentChunks(t *testing.T) {
	content := words(120)
	cfg := Config{ChunkSize: 50, ChunkOverlap: 10, MaxChunkSize: 80}
	spans := Chunk(content, cfg)
	require.GreaterOrEqual(t, len(spans), 2)

	// The second chunk starts 10 tokens before the first chunk's end.
	first := strings.Fields(spans[0].Text)
	second := strings.Fields(spans[1].Text)
	assert.Equal(t, first[len(first)-10:], second[:10])
}

func TestChunk_SentenceBoundaryRetraction(t *testing.T) {
	// 30 filler words, a sentence end, then more words. With a chunk
	// size of 40 the boundary pulls the cut back to token 31.
	content := words(30) + " done. " + words(40)
	cfg := Config{
		ChunkSize:                 40,
		ChunkOverlap:              0,
		MaxChunkSize:              80,
		MinChunkSize:              5,
		RespectSentenceBoundaries: true,
	}

	spans := Chunk(content, cfg)
	require.GreaterOrEqual(t, len(spans), 2)
	assert.True(t, strings.HasSuffix(spans[0].Text, "done."),
		"first chunk should end at the sentence boundary, got %q", spans[0].Text)
	assert.Equal(t, 31, spans[0].TokenCount)
}

func TestChunk_SentenceRetractionSkippedBelowMin(t *testing.T) {
	// The only sentence end sits at token 3; MinChunkSize forbids
	// cutting there, so the chunk stays at the full budget.
	content := "one two three. " + words(100)
	cfg := Config{
		ChunkSize:                 40,
		ChunkOverlap:              0,
		MaxChunkSize:              80,
		MinChunkSize:              10,
		RespectSentenceBoundaries: true,
	}

	spans := Chunk(content, cfg)
	require.NotEmpty(t, spans)
	assert.Equal(t, 40, spans[0].TokenCount)
}

func TestChunk_ParagraphBoundaryPreferred(t *testing.T) {
	para1 := words(20)
	para2 := "ending sentence here. " + words(15)
	content := para1 + "\n\n" + para2
	cfg := Config{
		ChunkSize:                  30,
		ChunkOverlap:               0,
		MaxChunkSize:               60,
		MinChunkSize:               5,
		RespectSentenceBoundaries:  true,
		RespectParagraphBoundaries: true,
	}

	spans := Chunk(content, cfg)
	require.GreaterOrEqual(t, len(spans), 2)
	// Paragraph break wins over the sentence end inside paragraph 2.
	assert.Equal(t, para1, spans[0].Text)
	assert.Equal(t, 20, spans[0].TokenCount)
}

func TestChunk_ThreeParagraphScenario(t *testing.T) {
	// Three ~80-token paragraphs, chunk size 50, overlap 10: chunks
	// respect paragraph boundaries where possible and cover everything.
	paras := []string{words(80), words(80), words(80)}
	content := strings.Join(paras, "\n\n")
	cfg := Config{
		ChunkSize:                  50,
		ChunkOverlap:               10,
		MaxChunkSize:               80,
		MinChunkSize:               10,
		RespectSentenceBoundaries:  true,
		RespectParagraphBoundaries: true,
	}

	spans := Chunk(content, cfg)
	require.NotEmpty(t, spans)

	for i, s := range spans {
		assert.Equal(t, i, s.Ordinal)
		assert.LessOrEqual(t, s.TokenCount, 50)
	}
	assert.Equal(t, 0, spans[0].StartOffset)
	assert.Equal(t, len(content), spans[len(spans)-1].EndOffset)
}

func TestChunk_ProgressGuaranteedWithLargeOverlap(t *testing.T) {
	// Overlap nearly equal to chunk size must still terminate.
	content := words(100)
	cfg := Config{ChunkSize: 10, ChunkOverlap: 9, MaxChunkSize: 10}

	spans := Chunk(content, cfg)
	require.NotEmpty(t, spans)
	for i := 1; i < len(spans); i++ {
		assert.Greater(t, spans[i].StartOffset, spans[i-1].StartOffset)
	}
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 3, CountTokens("one  two\nthree"))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"crlf normalized", "a\r\nb", "a\nb"},
		{"trailing spaces stripped", "a   \nb\t\n", "a\nb"},
		{"inner runs collapsed", "a    b\tc", "a b c"},
		{"triple newline collapsed", "a\n\n\n\nb", "a\n\nb"},
		{"paragraph break preserved", "a\n\nb", "a\n\nb"},
		{"surrounding whitespace trimmed", "  \n a \n ", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.input))
		})
	}
}

func TestCleanText_ThenChunk_OffsetsStillExact(t *testing.T) {
	raw := "First  paragraph with   extra spaces.\r\n\r\nSecond paragraph here."
	cleaned := CleanText(raw)
	spans := Chunk(cleaned, smallConfig())

	require.NotEmpty(t, spans)
	for _, s := range spans {
		assert.Equal(t, cleaned[s.StartOffset:s.EndOffset], s.Text)
	}
}
