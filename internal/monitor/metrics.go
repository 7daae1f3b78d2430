package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks simulator cycle and settlement performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	CycleLatency  *LatencyHistogram
	SettleLatency *LatencyHistogram
	OpenLatency   *LatencyHistogram
	APILatency    *LatencyHistogram

	subtasks map[string]*LatencyHistogram

	// Counters
	cycles               atomic.Uint64
	instrumentsProcessed atomic.Uint64
	tradesResolved       atomic.Uint64
	tradesOpened         atomic.Uint64
	errorsCount          atomic.Uint64
	apiRequests          atomic.Uint64
	apiErrors            atomic.Uint64

	// Last cycle
	lastCycle CycleReport

	// Gauges updated by the app wiring.
	activeTrades  int
	ledgerLines   int
	subscribers   int
	droppedEvents uint64
}

// CycleReport summarizes one scheduler cycle.
type CycleReport struct {
	StartedAt            time.Time        `json:"started_at"`
	Duration             time.Duration    `json:"duration_ns"`
	InstrumentsProcessed int              `json:"instruments_processed"`
	TradesResolved       int              `json:"trades_resolved"`
	Failed               []string         `json:"failed,omitempty"`
	Subtasks             map[string]int64 `json:"subtask_ms,omitempty"`
}

// LatencyHistogram tracks latency samples over a sliding window with lazily
// computed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	next        int
	full        bool
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:  NewLatencyHistogram(1000),
		SettleLatency: NewLatencyHistogram(1000),
		OpenLatency:   NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
		subtasks:      make(map[string]*LatencyHistogram),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, size),
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds, overwriting the oldest
// once the window is full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.next] = latencyMs
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}

	n := h.next
	if h.full {
		n = len(h.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Subtask returns the histogram for a named scheduler subtask.
func (m *SystemMetrics) Subtask(name string) *LatencyHistogram {
	m.mu.RLock()
	h, ok := m.subtasks[name]
	m.mu.RUnlock()
	if ok {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.subtasks[name]; ok {
		return h
	}
	h = NewLatencyHistogram(200)
	m.subtasks[name] = h
	return h
}

// RecordCycle stores a finished scheduler cycle.
func (m *SystemMetrics) RecordCycle(r CycleReport) {
	m.cycles.Add(1)
	m.instrumentsProcessed.Add(uint64(r.InstrumentsProcessed))
	m.tradesResolved.Add(uint64(r.TradesResolved))
	m.errorsCount.Add(uint64(len(r.Failed)))
	m.CycleLatency.RecordDuration(r.Duration)

	m.mu.Lock()
	m.lastCycle = r
	m.mu.Unlock()
}

// IncrementTradesOpened counts an accepted trade.
func (m *SystemMetrics) IncrementTradesOpened() {
	m.tradesOpened.Add(1)
}

// IncrementAPI counts an HTTP request.
func (m *SystemMetrics) IncrementAPI() {
	m.apiRequests.Add(1)
}

// IncrementAPIErrors counts an HTTP response with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() {
	m.apiErrors.Add(1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	m.errorsCount.Add(1)
}

// SetGauges updates point-in-time sizes sampled by the wiring layer.
func (m *SystemMetrics) SetGauges(activeTrades, ledgerLines, subscribers int, droppedEvents uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTrades = activeTrades
	m.ledgerLines = ledgerLines
	m.subscribers = subscribers
	m.droppedEvents = droppedEvents
}

// MetricsSnapshot is a point-in-time view of every metric.
type MetricsSnapshot struct {
	CycleLatency         LatencyStats            `json:"cycle_latency"`
	SettleLatency        LatencyStats            `json:"settle_latency"`
	OpenLatency          LatencyStats            `json:"open_latency"`
	APILatency           LatencyStats            `json:"api_latency"`
	SubtaskLatency       map[string]LatencyStats `json:"subtask_latency"`
	Cycles               uint64                  `json:"cycles"`
	InstrumentsProcessed uint64                  `json:"instruments_processed"`
	TradesResolved       uint64                  `json:"trades_resolved"`
	TradesOpened         uint64                  `json:"trades_opened"`
	ErrorsCount          uint64                  `json:"errors_count"`
	APIRequests          uint64                  `json:"api_requests"`
	APIErrors            uint64                  `json:"api_errors"`
	LastCycle            CycleReport             `json:"last_cycle"`
	ActiveTrades         int                     `json:"active_trades"`
	LedgerLines          int                     `json:"ledger_lines"`
	Subscribers          int                     `json:"subscribers"`
	DroppedEvents        uint64                  `json:"dropped_events"`
	GoroutineCount       int                     `json:"goroutine_count"`
	HeapAlloc            uint64                  `json:"heap_alloc_bytes"`
	HeapSys              uint64                  `json:"heap_sys_bytes"`
	Timestamp            time.Time               `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	snap := MetricsSnapshot{
		SubtaskLatency: make(map[string]LatencyStats, len(m.subtasks)),
		LastCycle:      m.lastCycle,
		ActiveTrades:   m.activeTrades,
		LedgerLines:    m.ledgerLines,
		Subscribers:    m.subscribers,
		DroppedEvents:  m.droppedEvents,
	}
	subtasks := make(map[string]*LatencyHistogram, len(m.subtasks))
	for k, v := range m.subtasks {
		subtasks[k] = v
	}
	m.mu.RUnlock()

	for k, h := range subtasks {
		snap.SubtaskLatency[k] = h.Stats()
	}
	snap.CycleLatency = m.CycleLatency.Stats()
	snap.SettleLatency = m.SettleLatency.Stats()
	snap.OpenLatency = m.OpenLatency.Stats()
	snap.APILatency = m.APILatency.Stats()
	snap.Cycles = m.cycles.Load()
	snap.InstrumentsProcessed = m.instrumentsProcessed.Load()
	snap.TradesResolved = m.tradesResolved.Load()
	snap.TradesOpened = m.tradesOpened.Load()
	snap.ErrorsCount = m.errorsCount.Load()
	snap.APIRequests = m.apiRequests.Load()
	snap.APIErrors = m.apiErrors.Load()
	snap.GoroutineCount = runtime.NumGoroutine()
	snap.HeapAlloc = memStats.HeapAlloc
	snap.HeapSys = memStats.HeapSys
	snap.Timestamp = time.Now()
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
