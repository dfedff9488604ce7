package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NodePath81/netcap/internal/risk"
)

// Operation names used as metric labels.
const (
	OpEndToEnd       = "end_to_end_throughput"
	OpBottleneck     = "bottleneck_info"
	OpPerFlow        = "per_flow_throughput"
	OpEffectiveLinks = "effective_link_rates"
	OpSweep          = "dos_sweep"
	OpScenarios      = "run_scenarios"
)

type Metrics struct {
	mu          sync.Mutex
	evaluations map[string]uint64
	errors      map[string]uint64
	rows        map[risk.Severity]uint64
	streams     atomic.Int64
	startTime   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		evaluations: make(map[string]uint64),
		errors:      make(map[string]uint64),
		rows: map[risk.Severity]uint64{
			risk.SeverityOK:       0,
			risk.SeverityWarn:     0,
			risk.SeverityCritical: 0,
		},
		startTime: time.Now(),
	}
}

// Observe records one evaluation of op and whether it failed.
func (m *Metrics) Observe(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations[op]++
	if err != nil {
		m.errors[op]++
	}
}

// ObserveRow counts a sweep row by severity.
func (m *Metrics) ObserveRow(res risk.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[res.Severity]++
}

// ObserveReport counts every row of a sweep report.
func (m *Metrics) ObserveReport(rep risk.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range rep.Results {
		m.rows[res.Severity]++
	}
}

func (m *Metrics) StreamOpened() {
	m.streams.Add(1)
}

func (m *Metrics) StreamClosed() {
	m.streams.Add(-1)
}

func (m *Metrics) Evaluations(op string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluations[op]
}

func (m *Metrics) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.Render()))
}

func (m *Metrics) Render() string {
	m.mu.Lock()
	evaluations := copyUint64Map(m.evaluations)
	errs := copyUint64Map(m.errors)
	rows := make(map[string]uint64, len(m.rows))
	for sev, n := range m.rows {
		rows[string(sev)] = n
	}
	startTime := m.startTime
	m.mu.Unlock()

	var b strings.Builder
	b.WriteString("# TYPE netcap_evaluations_total counter\n")
	for _, op := range sortedKeys(evaluations) {
		b.WriteString("netcap_evaluations_total{operation=\"")
		b.WriteString(op)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(evaluations[op], 10))
		b.WriteString("\n")
	}
	b.WriteString("# TYPE netcap_errors_total counter\n")
	for _, op := range sortedKeys(evaluations) {
		b.WriteString("netcap_errors_total{operation=\"")
		b.WriteString(op)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(errs[op], 10))
		b.WriteString("\n")
	}
	b.WriteString("# TYPE netcap_sweep_rows_total counter\n")
	for _, sev := range sortedKeys(rows) {
		b.WriteString("netcap_sweep_rows_total{severity=\"")
		b.WriteString(sev)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(rows[sev], 10))
		b.WriteString("\n")
	}
	b.WriteString("# TYPE netcap_streams_active gauge\n")
	b.WriteString("netcap_streams_active ")
	b.WriteString(strconv.FormatInt(m.streams.Load(), 10))
	b.WriteString("\n")
	b.WriteString("# TYPE netcap_uptime_seconds gauge\n")
	b.WriteString("netcap_uptime_seconds ")
	if startTime.IsZero() {
		b.WriteString("0\n")
	} else {
		b.WriteString(formatFloat(time.Since(startTime).Seconds()))
		b.WriteString("\n")
	}
	return b.String()
}

func copyUint64Map(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', 6, 64)
}
