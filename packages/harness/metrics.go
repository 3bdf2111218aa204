package harness

import (
	"runtime"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// PerfExpectations sets the baselines a run is scored against. Zero fields
// fall back to one second average latency and 512MiB peak heap.
type PerfExpectations struct {
	AverageDuration time.Duration `json:"average_duration,omitempty"`
	PeakHeapBytes   uint64        `json:"peak_heap_bytes,omitempty"`
}

const (
	defaultExpectedAverage = time.Second
	defaultExpectedHeap    = 512 << 20
)

func (p PerfExpectations) orDefaults() PerfExpectations {
	if p.AverageDuration <= 0 {
		p.AverageDuration = defaultExpectedAverage
	}
	if p.PeakHeapBytes == 0 {
		p.PeakHeapBytes = defaultExpectedHeap
	}
	return p
}

// Metrics accumulates per-test timings for one suite run. The engine owns
// the accumulator and records into it as tests complete; readers only see
// the immutable Summary it produces at the end.
type Metrics struct {
	mu sync.Mutex

	expectations PerfExpectations

	// 1us to 60s range, 3 significant digits
	histogram *hdrhistogram.Histogram

	total   int
	passed  int
	failed  int
	skipped int
	errored int

	slowestName string
	slowest     time.Duration
	fastestName string
	fastest     time.Duration

	peakHeapBytes uint64
	startTime     time.Time
	endTime       time.Time
}

// Summary is the serializable snapshot reported alongside suite results.
type Summary struct {
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	P50             time.Duration `json:"p50"`
	P95             time.Duration `json:"p95"`
	P99             time.Duration `json:"p99"`
	SlowestTest     string        `json:"slowest_test,omitempty"`
	SlowestDuration time.Duration `json:"slowest_duration"`
	FastestTest     string        `json:"fastest_test,omitempty"`
	FastestDuration time.Duration `json:"fastest_duration"`
	PeakHeapBytes   uint64        `json:"peak_heap_bytes"`
	PassRate        float64       `json:"pass_rate"`
	ErrorRate       float64       `json:"error_rate"`
	Throughput      float64       `json:"tests_per_second"`

	// Scores in [0,100]: 100 when the run meets its expectations, scaled
	// down proportionally when it exceeds them.
	DurationScore float64 `json:"duration_score"`
	MemoryScore   float64 `json:"memory_score"`
}

// NewMetrics returns an empty accumulator.
func NewMetrics() *Metrics {
	return &Metrics{histogram: hdrhistogram.New(1, 60_000_000, 3)}
}

// SetExpectations installs the scoring baselines before the run starts.
func (m *Metrics) SetExpectations(p PerfExpectations) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = p
}

// Start marks the beginning of the run.
func (m *Metrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
}

// Stop marks the end of the run.
func (m *Metrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endTime = time.Now()
	m.sampleHeap()
}

// Record accounts one finished test.
func (m *Metrics) Record(name string, status Status, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	switch status {
	case StatusPassed:
		m.passed++
	case StatusFailed:
		m.failed++
	case StatusSkipped:
		m.skipped++
	case StatusError:
		m.errored++
	}

	if status == StatusSkipped {
		return
	}

	latencyUs := duration.Microseconds()
	if latencyUs < 1 {
		latencyUs = 1
	}
	if latencyUs > 60_000_000 {
		latencyUs = 60_000_000
	}
	_ = m.histogram.RecordValue(latencyUs)

	if duration > m.slowest {
		m.slowest = duration
		m.slowestName = name
	}
	if m.fastestName == "" || duration < m.fastest {
		m.fastest = duration
		m.fastestName = name
	}

	m.sampleHeap()
}

func (m *Metrics) sampleHeap() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc > m.peakHeapBytes {
		m.peakHeapBytes = ms.HeapAlloc
	}
}

// Summarize produces the final snapshot.
func (m *Metrics) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		SlowestTest:     m.slowestName,
		SlowestDuration: m.slowest,
		FastestTest:     m.fastestName,
		FastestDuration: m.fastest,
		PeakHeapBytes:   m.peakHeapBytes,
	}

	if !m.startTime.IsZero() {
		end := m.endTime
		if end.IsZero() {
			end = time.Now()
		}
		s.TotalDuration = end.Sub(m.startTime)
	}

	if n := m.histogram.TotalCount(); n > 0 {
		s.AverageDuration = time.Duration(m.histogram.Mean()) * time.Microsecond
		s.P50 = time.Duration(m.histogram.ValueAtQuantile(50)) * time.Microsecond
		s.P95 = time.Duration(m.histogram.ValueAtQuantile(95)) * time.Microsecond
		s.P99 = time.Duration(m.histogram.ValueAtQuantile(99)) * time.Microsecond
	}

	executed := m.total - m.skipped
	if executed > 0 {
		s.PassRate = float64(m.passed) / float64(executed)
		s.ErrorRate = float64(m.failed+m.errored) / float64(executed)
	}
	if s.TotalDuration > 0 && executed > 0 {
		s.Throughput = float64(executed) / s.TotalDuration.Seconds()
	}

	exp := m.expectations.orDefaults()
	s.DurationScore = efficiencyScore(float64(s.AverageDuration), float64(exp.AverageDuration))
	s.MemoryScore = efficiencyScore(float64(s.PeakHeapBytes), float64(exp.PeakHeapBytes))
	return s
}

// efficiencyScore maps actual vs expected onto [0,100]: meeting the
// expectation scores 100, overshooting scales down proportionally.
func efficiencyScore(actual, expected float64) float64 {
	if actual <= 0 || expected <= 0 || actual <= expected {
		return 100
	}
	return 100 * expected / actual
}
