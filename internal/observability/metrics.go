package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                sync.Mutex
	requestCount      map[string]int64
	requestDuration   map[string]time.Duration
	errorCount        map[string]int64
	classifications   map[string]int64
	signals           map[string]int64
	evaluationRuns    int64
	evaluationErrors  int64
	lastEvaluationRun time.Time
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests          map[string]int64 `json:"requests"`
	RequestAvgMillis  map[string]int64 `json:"request_avg_ms"`
	Errors            map[string]int64 `json:"errors"`
	Classifications   map[string]int64 `json:"sla_classifications"`
	Signals           map[string]int64 `json:"sla_signals"`
	EvaluationRuns    int64            `json:"sla_evaluation_runs"`
	EvaluationErrors  int64            `json:"sla_evaluation_errors"`
	LastEvaluationRun *time.Time       `json:"sla_last_evaluation_run,omitempty"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		requestDuration: make(map[string]time.Duration),
		errorCount:      make(map[string]int64),
		classifications: make(map[string]int64),
		signals:         make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestDuration[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordClassification counts one evaluated ticket per classification.
func (m *Metrics) RecordClassification(classification string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifications[classification]++
}

// RecordSignal counts a published SLA signal by kind.
func (m *Metrics) RecordSignal(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[kind]++
}

// RecordEvaluationRun marks the end of a worker pass.
func (m *Metrics) RecordEvaluationRun(at time.Time, failed int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluationRuns++
	m.evaluationErrors += int64(failed)
	m.lastEvaluationRun = at
}

// Snapshot copies every counter under the lock.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Requests:         copyCounts(m.requestCount),
		RequestAvgMillis: make(map[string]int64, len(m.requestDuration)),
		Errors:           copyCounts(m.errorCount),
		Classifications:  copyCounts(m.classifications),
		Signals:          copyCounts(m.signals),
		EvaluationRuns:   m.evaluationRuns,
		EvaluationErrors: m.evaluationErrors,
	}
	for key, total := range m.requestDuration {
		if n := m.requestCount[key]; n > 0 {
			snap.RequestAvgMillis[key] = total.Milliseconds() / n
		}
	}
	if !m.lastEvaluationRun.IsZero() {
		last := m.lastEvaluationRun
		snap.LastEvaluationRun = &last
	}
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
