package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/processor"
)

const ec2Text = "Use the latest EC2 generation for G-family instances."

func TestSplit_RoundTrip(t *testing.T) {
	texts := []string{
		"",
		"a",
		ec2Text,
		strings.Repeat("finops ", 200),
		"naïve café — ünïcödé text that must not be cut mid-rune ✓",
	}
	sizes := []int{1, 3, 7, 50, 500, 10000}

	for _, text := range texts {
		for _, size := range sizes {
			chunks, err := processor.Split(text, size, 0)
			require.NoError(t, err)
			assert.Equal(t, text, strings.Join(chunks, ""), "size=%d", size)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), size)
				assert.True(t, utf8.ValidString(c))
			}
		}
	}
}

func TestSplit_Overlap(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"

	chunks, err := processor.Split(text, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdefghij", "hijklmnopq", "opqrstuvwx", "vwxyz"}, chunks)

	// Dropping the overlap prefix from every chunk after the first rebuilds the text.
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			c = c[3:]
		}
		b.WriteString(c)
	}
	assert.Equal(t, text, b.String())
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := processor.Split("", 500, 0)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := processor.Split("text", tt.size, tt.overlap)
			assert.ErrorIs(t, err, types.ErrInvalidChunking)
		})
	}
}

func TestProcessor_Process(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 20})
	require.NoError(t, err)

	docs := []models.Document{
		{URL: "https://example.com/ec2", Content: ec2Text},
		{URL: "empty.txt", Content: ""},
	}

	chunks, err := p.Process(docs)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	seen := make(map[string]bool)
	var rebuilt strings.Builder
	for i, c := range chunks {
		assert.Equal(t, "https://example.com/ec2", c.SourceID)
		assert.Equal(t, i, c.Position)
		_, err := uuid.Parse(c.ID)
		assert.NoError(t, err)
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, ec2Text, rebuilt.String())
}

func TestProcessor_Cleaning(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:           500,
		NormalizeWhitespace: true,
		RemoveStopwords:     true,
		CustomStopwords:     []string{"Latest"},
	})
	require.NoError(t, err)

	chunks, err := p.Process([]models.Document{{Content: "Use   the latest\n\nEC2 generation"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Use EC2 generation", chunks[0].Text)
}

func TestProcessor_RecursiveStrategy(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize: 60,
		Strategy:  processor.StrategyRecursive,
	})
	require.NoError(t, err)

	text := "First paragraph about reserved instances.\n\nSecond paragraph about savings plans."
	chunks, err := p.Process([]models.Document{{URL: "doc", Content: text}})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "reserved instances")

	small, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    20,
		ChunkOverlap: 5,
		Strategy:     processor.StrategyRecursive,
	})
	require.NoError(t, err)

	long := strings.Repeat("Rightsize idle ünïcödé instances weekly. ", 6)
	chunks, err = small.Process([]models.Document{{URL: "doc", Content: long}})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 20, c.Text)
	}
}

func TestProcessor_DropsInvalidUTF8(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 4})
	require.NoError(t, err)

	chunks, err := p.Process([]models.Document{{URL: "doc", Content: "cost\xffsaving"}})
	require.NoError(t, err)

	var rebuilt strings.Builder
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text), c.Text)
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, "costsaving", rebuilt.String())
}

func TestNewWithConfig_Validation(t *testing.T) {
	_, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 10, ChunkOverlap: 10})
	assert.ErrorIs(t, err, types.ErrInvalidChunking)

	_, err = processor.NewWithConfig(processor.ProcessorConfig{Strategy: "semantic"})
	assert.ErrorIs(t, err, types.ErrInvalidChunking)

	p, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
