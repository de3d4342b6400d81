package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks orchestration performance across all sessions.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	ScanLatency       *LatencyHistogram
	PlacementLatency  *LatencyHistogram
	SettlementLatency *LatencyHistogram
	APILatency        *LatencyHistogram

	// Counters
	scansCompleted   uint64
	signalsGenerated uint64
	tradesPlaced     uint64
	tradesSettled    uint64
	errorsCount      uint64
	apiRequests      uint64
	apiErrors        uint64

	// Session counts (updated periodically by the orchestrator).
	activeSessions int
	knownAccounts  int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and
// lazily recomputes stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ScanLatency:       NewLatencyHistogram(1000),
		PlacementLatency:  NewLatencyHistogram(1000),
		SettlementLatency: NewLatencyHistogram(1000),
		APILatency:        NewLatencyHistogram(1000),
		lastUpdate:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99, recomputing only when
// samples changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
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

// IncrementScans counts a completed scan pass.
func (m *SystemMetrics) IncrementScans() {
	atomic.AddUint64(&m.scansCompleted, 1)
}

// IncrementSignals counts a raised signal.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementTrades counts an accepted placement.
func (m *SystemMetrics) IncrementTrades() {
	atomic.AddUint64(&m.tradesPlaced, 1)
}

// IncrementSettlements counts a resolved trade.
func (m *SystemMetrics) IncrementSettlements() {
	atomic.AddUint64(&m.tradesSettled, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI counts a handled API request.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts a 4xx/5xx API response.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time metrics view.
type MetricsSnapshot struct {
	ScanLatency       LatencyStats `json:"scan_latency"`
	PlacementLatency  LatencyStats `json:"placement_latency"`
	SettlementLatency LatencyStats `json:"settlement_latency"`
	ScansCompleted    uint64       `json:"scans_completed"`
	SignalsGenerated  uint64       `json:"signals_generated"`
	TradesPlaced      uint64       `json:"trades_placed"`
	TradesSettled     uint64       `json:"trades_settled"`
	ErrorsCount       uint64       `json:"errors_count"`
	APIRequests       uint64       `json:"api_requests"`
	APIErrors         uint64       `json:"api_errors"`
	APILatency        LatencyStats `json:"api_latency"`
	ActiveSessions    int          `json:"active_sessions"`
	KnownAccounts     int          `json:"known_accounts"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	active := m.activeSessions
	known := m.knownAccounts
	m.mu.RUnlock()

	return MetricsSnapshot{
		ScanLatency:       m.ScanLatency.Stats(),
		PlacementLatency:  m.PlacementLatency.Stats(),
		SettlementLatency: m.SettlementLatency.Stats(),
		ScansCompleted:    atomic.LoadUint64(&m.scansCompleted),
		SignalsGenerated:  atomic.LoadUint64(&m.signalsGenerated),
		TradesPlaced:      atomic.LoadUint64(&m.tradesPlaced),
		TradesSettled:     atomic.LoadUint64(&m.tradesSettled),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		APIErrors:         atomic.LoadUint64(&m.apiErrors),
		APILatency:        m.APILatency.Stats(),
		ActiveSessions:    active,
		KnownAccounts:     known,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		Timestamp:         time.Now(),
	}
}

// SetSessionCounts updates live/known session counts.
func (m *SystemMetrics) SetSessionCounts(active, known int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessions = active
	m.knownAccounts = known
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
