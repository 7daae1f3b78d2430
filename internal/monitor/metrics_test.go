package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(4)
	for _, v := range []float64{100, 1, 2, 3, 4} {
		h.Record(v)
	}

	s := h.Stats()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 2.5, s.Avg)

	// cached until the next sample
	assert.Equal(t, s, h.Stats())
	h.Record(10)
	assert.Equal(t, 10.0, h.Stats().Max)
}

func TestEmptyHistogram(t *testing.T) {
	assert.Equal(t, LatencyStats{}, NewLatencyHistogram(0).Stats())
}

func TestRecordCycle(t *testing.T) {
	m := NewSystemMetrics()
	m.RecordCycle(CycleReport{Duration: 5 * time.Millisecond, InstrumentsProcessed: 20, TradesResolved: 2, Failed: []string{"scenarios"}})
	m.RecordCycle(CycleReport{Duration: 7 * time.Millisecond, InstrumentsProcessed: 20})
	m.Subtask("price_tick").RecordDuration(time.Millisecond)
	m.SetGauges(3, 10, 1, 7)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.Cycles)
	assert.EqualValues(t, 40, snap.InstrumentsProcessed)
	assert.EqualValues(t, 2, snap.TradesResolved)
	assert.EqualValues(t, 1, snap.ErrorsCount)
	assert.Equal(t, 2, snap.CycleLatency.Count)
	assert.Equal(t, 1, snap.SubtaskLatency["price_tick"].Count)
	assert.Equal(t, 3, snap.ActiveTrades)
	assert.EqualValues(t, 7, snap.DroppedEvents)
}
