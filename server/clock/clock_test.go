package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClockIsUTCWithMicrosecondPrecision(t *testing.T) {
	now := Real{}.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%1000, "Expected no sub-microsecond component")
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	assert.Equal(t, start, fake.Now())
	assert.Equal(t, start.Add(time.Hour), fake.Advance(time.Hour))

	later := start.Add(48 * time.Hour)
	fake.Set(later)
	assert.Equal(t, later, fake.Now())
}
