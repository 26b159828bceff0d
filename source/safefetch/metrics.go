package safefetch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects fetch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	fetches   *prometheus.CounterVec
	redirects prometheus.Histogram
	bodyBytes prometheus.Histogram
	truncated prometheus.Counter
}

// NewMetrics creates the fetch collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safefetch",
			Name:      "fetches_total",
			Help:      "Completed fetch calls by outcome.",
		}, []string{"outcome"}),
		redirects: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "safefetch",
			Name:      "redirects",
			Help:      "Redirect hops followed per successful fetch.",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		}),
		bodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "safefetch",
			Name:      "body_bytes",
			Help:      "Response body bytes read per buffered fetch.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safefetch",
			Name:      "truncated_total",
			Help:      "Buffered fetches whose body hit the byte cap.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.redirects, m.bodyBytes, m.truncated)
	}
	return m
}

func (m *Metrics) observeOutcome(kind ErrorKind) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeResponse(resp *Response, buffered bool) {
	if m == nil || resp == nil {
		return
	}
	m.redirects.Observe(float64(len(resp.RedirectHistory)))
	if !buffered {
		return
	}
	m.bodyBytes.Observe(float64(len(resp.Body)))
	if resp.Truncated {
		m.truncated.Inc()
	}
}
