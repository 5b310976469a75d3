package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names exported by sofa-server.
const (
	metricTransitions  = "sofa_listener_transitions_total"
	metricBindFailures = "sofa_listener_bind_failures_total"
	metricSwaps        = "sofa_backend_swaps_total"
	metricBackend      = "sofa_backend_active"
	metricTailRestarts = "sofa_logtail_restarts_total"
	metricTailActive   = "sofa_logtail_active"
	metricConfigWrites = "sofa_config_writes_total"
)

// Fetcher returns the raw text exposition. *client.Client satisfies it.
type Fetcher interface {
	Metrics(ctx context.Context) ([]byte, error)
}

// Result is one scrape of a server. Counters are raw totals since the
// server started.
type Result struct {
	ScrapedAt time.Time

	// Binds counts transitions into starting; Drains counts transitions
	// into draining.
	Binds  float64
	Drains float64

	// BindFailures is keyed by kind: "addr_in_use" or "other".
	BindFailures map[string]float64
	// Swaps is keyed by result: "ok" or "error".
	Swaps map[string]float64
	// ActiveBackend is the mode whose gauge is 1, or "".
	ActiveBackend string

	TailRestarts map[string]float64
	TailActive   bool

	// ConfigWrites is keyed by option path.
	ConfigWrites map[string]float64

	// Err is non-nil if the scrape itself failed.
	Err error
}

// Scrape fetches and parses the exposition. A fetch or parse failure is
// returned in Result.Err.
func Scrape(ctx context.Context, f Fetcher) *Result {
	raw, err := f.Metrics(ctx)
	if err != nil {
		slog.Warn("scraper: fetch failed", "err", err)
		res := newResult()
		res.Err = fmt.Errorf("scraper: fetch: %w", err)
		return res
	}
	res, err := Parse(bytes.NewReader(raw))
	if err != nil {
		res = newResult()
		res.Err = err
	}
	return res
}

// Parse decodes a text exposition into a Result.
func Parse(r io.Reader) (*Result, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("scraper: parse metrics: %w", err)
	}

	res := newResult()
	if mf := mfs[metricTransitions]; mf != nil {
		for _, m := range mf.GetMetric() {
			switch labelValue(m, "to") {
			case "starting":
				res.Binds += value(m)
			case "draining":
				res.Drains += value(m)
			}
		}
	}
	res.BindFailures = sumBy(mfs[metricBindFailures], "kind")
	res.Swaps = sumBy(mfs[metricSwaps], "result")
	res.TailRestarts = sumBy(mfs[metricTailRestarts], "result")
	res.ConfigWrites = sumBy(mfs[metricConfigWrites], "path")
	res.TailActive = sumFamily(mfs[metricTailActive]) > 0

	if mf := mfs[metricBackend]; mf != nil {
		for _, m := range mf.GetMetric() {
			if value(m) > 0 {
				res.ActiveBackend = labelValue(m, "mode")
			}
		}
	}
	return res, nil
}

func newResult() *Result {
	return &Result{
		ScrapedAt:    time.Now().UTC(),
		BindFailures: make(map[string]float64),
		Swaps:        make(map[string]float64),
		TailRestarts: make(map[string]float64),
		ConfigWrites: make(map[string]float64),
	}
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

// sumFamily adds up every sample of mf. A nil family sums to 0.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// sumBy totals mf's samples per value of label.
func sumBy(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		out[labelValue(m, label)] += value(m)
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
