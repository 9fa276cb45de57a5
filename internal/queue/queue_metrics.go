package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CountSource reports per-state request counts.
type CountSource interface {
	Counts() Counts
}

// RegisterMetrics exposes src's counts as gauges evaluated at scrape
// time.
func RegisterMetrics(reg prometheus.Registerer, src CountSource, maxConcurrent int) {
	gauge := func(name, help string, read func(Counts) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, func() float64 { return float64(read(src.Counts())) })
	}

	reg.MustRegister(
		gauge("sift_queue_requests", "Requests tracked by the queue.",
			func(c Counts) int { return c.Total }),
		gauge("sift_queue_waiting", "Requests waiting for a processing slot.",
			func(c Counts) int { return c.Queued }),
		gauge("sift_queue_processing", "Requests currently being processed.",
			func(c Counts) int { return c.Processing }),
		gauge("sift_queue_completed", "Tracked requests that completed.",
			func(c Counts) int { return c.Completed }),
		gauge("sift_queue_failed", "Tracked requests that failed.",
			func(c Counts) int { return c.Failed }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sift_queue_slots",
			Help: "Configured number of concurrent processing slots.",
		}, func() float64 { return float64(maxConcurrent) }),
	)
}
