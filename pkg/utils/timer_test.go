package utils

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Phases(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("build", WithClock(clock))

	hash := timer.Start("hash")
	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, hash.Stop())

	scan := timer.Start("scan")
	clock.Advance(20 * time.Millisecond)
	scan.Stop()
	clock.Advance(time.Second)
	assert.Equal(t, 20*time.Millisecond, scan.Stop(), "second stop is a no-op")

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "hash", phases[0].Name)
	assert.Equal(t, "scan", phases[1].Name)
	assert.Equal(t, 20*time.Millisecond, timer.Duration("scan"))
	assert.Equal(t, time.Second+25*time.Millisecond, timer.Total())
}

func TestTimer_TimeFuncWithError(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("op", WithClock(clock))
	boom := errors.New("boom")

	d, err := timer.TimeFuncWithError("step", func() error {
		clock.Advance(time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, time.Millisecond, d)
}

func TestTimer_PrintSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("build", WithClock(clock), WithLogger(NewDefaultLogger(LevelDebug, buf)))

	timer.Start("header").Stop()
	timer.PrintSummary()

	assert.Contains(t, buf.String(), "[DEBUG] build timing: header=0s total=0s")
}

func TestTimer_Disabled(t *testing.T) {
	timer := NewNullTimer()
	assert.Equal(t, time.Duration(0), timer.Start("x").Stop())
	assert.Empty(t, timer.Phases())
	assert.Empty(t, timer.Summary())
}

func TestTimer_Reset(t *testing.T) {
	timer := NewTimer("t", WithClock(NewMockClock(time.Unix(0, 0))))
	timer.Start("a").Stop()
	timer.Reset()
	assert.Empty(t, timer.Phases())
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), clock.Now())
	assert.Equal(t, time.Hour, clock.Since(start))

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
