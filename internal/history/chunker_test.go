package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRangeCoversSpanExactly(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	maxSpan := 7 * 24 * time.Hour

	chunks, err := ChunkRange(start, end, maxSpan)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// First chunk starts at start, last ends at end
	assert.Equal(t, start, chunks[0].Start)
	assert.Equal(t, end, chunks[len(chunks)-1].End)

	for i, chunk := range chunks {
		// No chunk exceeds the max span
		assert.LessOrEqual(t, chunk.End.Sub(chunk.Start), maxSpan)

		// Chronological order, no gaps, no overlaps
		if i > 0 {
			assert.Equal(t, chunks[i-1].End, chunk.Start)
		}
	}

	// 30 days at 7-day spans: 4 full chunks plus a 2-day remainder
	assert.Len(t, chunks, 5)
	assert.Equal(t, 2*24*time.Hour, chunks[4].End.Sub(chunks[4].Start))
}

func TestChunkRangeSingleChunk(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * 24 * time.Hour)

	chunks, err := ChunkRange(start, end, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, start, chunks[0].Start)
	assert.Equal(t, end, chunks[0].End)
}

func TestChunkRangeZeroWidth(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	chunks, err := ChunkRange(start, start, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, start, chunks[0].Start)
	assert.Equal(t, start, chunks[0].End)
}

func TestChunkRangeEndBeforeStart(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := ChunkRange(start, start.Add(-time.Hour), 7*24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestChunkRangeInvalidSpan(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := ChunkRange(start, start.Add(time.Hour), 0)
	assert.ErrorIs(t, err, ErrInvalidSpan)

	_, err = ChunkRange(start, start.Add(time.Hour), -time.Minute)
	assert.ErrorIs(t, err, ErrInvalidSpan)
}

func TestChunkRangeExactMultiple(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(14 * 24 * time.Hour)

	chunks, err := ChunkRange(start, end, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.Equal(t, end, chunks[1].End)
}
