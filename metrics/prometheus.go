package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// operation label values; anything else is counted as "other"
var knownOperations = map[string]bool{
	"GetCapabilities":       true,
	"DescribeCoverage":      true,
	"DescribeEOCoverageSet": true,
	"GetCoverage":           true,
	"GetMsVersion":          true,
}

// Prometheus turns request records into Prometheus metrics.
type Prometheus struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	backend  *prometheus.HistogramVec
	bytes    prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soapproxy",
			Name:      "requests_total",
			Help:      "SOAP requests by operation, HTTP status and error code.",
		}, []string{"operation", "status", "error"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soapproxy",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving SOAP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		backend: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soapproxy",
			Name:      "backend_duration_seconds",
			Help:      "Time spent waiting for MapServer.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"mode"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soapproxy",
			Name:      "attachment_bytes_total",
			Help:      "Coverage bytes returned as attachments.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.requests, p.duration, p.backend, p.bytes)
	}
	return p
}

func (p *Prometheus) Log(info *MetricsInfo) {
	op := info.Operation
	if !knownOperations[op] {
		op = "other"
	}
	p.requests.WithLabelValues(op, strconv.Itoa(info.HTTPStatus), info.ErrorCode).Inc()
	p.duration.WithLabelValues(op).Observe(info.ReqDuration.Seconds())

	if b := info.Backend; b != nil && b.Duration > 0 {
		p.backend.WithLabelValues(b.Mode).Observe(b.Duration.Seconds())
		p.bytes.Add(float64(b.AttachmentBytes))
	}
}
