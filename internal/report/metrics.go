package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// verdictValue encodes a verdict for the verdict gauge.
var verdictValue = map[string]float64{
	LabelFailed:         0,
	LabelPartial:        1,
	LabelFullyConfirmed: 2,
}

// Gatherer builds a registry holding the run's metrics.
func Gatherer(doc Document) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	spans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracecheck",
		Name:      "master_trace_spans",
		Help:      "Spans observed for the master trace.",
	})
	services := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracecheck",
		Name:      "master_trace_services",
		Help:      "Distinct services observed for the master trace.",
	})
	verdict := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracecheck",
		Name:      "verdict",
		Help:      "Propagation verdict: 0 failed, 1 partial, 2 fully confirmed.",
	})
	phaseDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracecheck",
		Name:      "phase_duration_seconds",
		Help:      "Wall time of each phase.",
	}, []string{"phase", "status"})
	phaseSpans := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracecheck",
		Name:      "phase_new_spans",
		Help:      "Spans appended to the span log during each phase.",
	}, []string{"phase"})

	for _, c := range []prometheus.Collector{spans, services, verdict, phaseDuration, phaseSpans} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	if m := doc.MasterTrace; m != nil {
		spans.Set(float64(m.SpanCount))
		services.Set(float64(m.DistinctServices))
	}
	verdict.Set(verdictValue[doc.Summary])
	for _, p := range doc.Phases {
		phaseDuration.WithLabelValues(p.PhaseName, string(p.Status)).Set(float64(p.DurationMs) / 1000)
		phaseSpans.WithLabelValues(p.PhaseName).Set(float64(p.NewSpanCount))
	}
	return reg, nil
}

// WriteMetrics writes the run's metrics in the Prometheus textfile format.
func WriteMetrics(path string, doc Document) error {
	reg, err := Gatherer(doc)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
