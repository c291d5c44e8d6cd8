package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegment_Duration(t *testing.T) {
	start := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	t.Run("normal range", func(t *testing.T) {
		s := &Segment{StartTime: start, EndTime: start.Add(30 * time.Second)}
		assert.Equal(t, 30*time.Second, s.Duration())
	})

	t.Run("incomplete segment with zero end time", func(t *testing.T) {
		s := &Segment{StartTime: start}
		assert.Equal(t, time.Duration(0), s.Duration())
	})
}

func TestSegment_TableName(t *testing.T) {
	assert.Equal(t, "segments", Segment{}.TableName())
}
