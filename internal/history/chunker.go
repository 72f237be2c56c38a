package history

import (
	"errors"
	"time"
)

var (
	ErrInvalidRange = errors.New("history: range end precedes start")
	ErrInvalidSpan  = errors.New("history: max span must be positive")
)

// Range is one half-open [Start, End) sub-range of a fetch span.
type Range struct {
	Start time.Time
	End   time.Time
}

// ChunkRange splits [start, end) into chronologically ordered sub-ranges of
// at most maxSpan each, covering the span exactly once with no gaps and no
// overlaps. Oldest chunks come first so partial results remain useful if a
// fetch is interrupted. start == end yields a single zero-width chunk.
func ChunkRange(start, end time.Time, maxSpan time.Duration) ([]Range, error) {
	if maxSpan <= 0 {
		return nil, ErrInvalidSpan
	}
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	if start.Equal(end) {
		return []Range{{Start: start, End: end}}, nil
	}

	var chunks []Range
	for cursor := start; cursor.Before(end); {
		next := cursor.Add(maxSpan)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, Range{Start: cursor, End: next})
		cursor = next
	}
	return chunks, nil
}
