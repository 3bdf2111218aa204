package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Scores(t *testing.T) {
	t.Run("meeting expectations scores 100", func(t *testing.T) {
		m := NewMetrics()
		m.SetExpectations(PerfExpectations{AverageDuration: 10 * time.Millisecond})
		m.Start()
		m.Record("fast", StatusPassed, 5*time.Millisecond)
		m.Stop()

		s := m.Summarize()
		assert.InDelta(t, 100, s.DurationScore, 0.01)
	})

	t.Run("overshooting scales down proportionally", func(t *testing.T) {
		m := NewMetrics()
		m.SetExpectations(PerfExpectations{AverageDuration: 10 * time.Millisecond})
		m.Start()
		m.Record("slow", StatusPassed, 40*time.Millisecond)
		m.Stop()

		s := m.Summarize()
		assert.InDelta(t, 25, s.DurationScore, 2)
		assert.LessOrEqual(t, s.MemoryScore, 100.0)
		assert.Positive(t, s.MemoryScore)
	})

	t.Run("empty run scores 100", func(t *testing.T) {
		m := NewMetrics()
		m.Start()
		m.Stop()

		s := m.Summarize()
		assert.InDelta(t, 100, s.DurationScore, 0.01)
	})
}

func TestMetrics_SkippedNotMeasured(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.Record("ran", StatusPassed, 10*time.Millisecond)
	m.Record("skipped", StatusSkipped, 0)
	m.Stop()

	s := m.Summarize()
	assert.Equal(t, "ran", s.SlowestTest)
	assert.Equal(t, "ran", s.FastestTest)
	assert.InDelta(t, 1.0, s.PassRate, 1e-9)
}
