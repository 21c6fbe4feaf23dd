package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "scribe"

// Collector exposes a SnapshotProvider to Prometheus. Counters become
// counter metrics; each summary becomes a Prometheus summary (count and sum)
// plus min/max gauges.
type Collector struct {
	provider SnapshotProvider
	timeout  time.Duration
	logger   *slog.Logger

	counterDesc *prometheus.Desc
	summaryDesc *prometheus.Desc
	minDesc     *prometheus.Desc
	maxDesc     *prometheus.Desc
	upDesc      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector reading from provider on every scrape.
func NewCollector(provider SnapshotProvider, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		provider:    provider,
		timeout:     2 * time.Second,
		logger:      logger,
		counterDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "events_total"), "Persisted event counters.", []string{"name"}, nil),
		summaryDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "observations"), "Persisted observation summaries.", []string{"name"}, nil),
		minDesc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "observation_min"), "Smallest persisted observation.", []string{"name"}, nil),
		maxDesc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "observation_max"), "Largest persisted observation.", []string{"name"}, nil),
		upDesc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "metrics_up"), "1 if the metrics snapshot could be read.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counterDesc
	ch <- c.summaryDesc
	ch <- c.minDesc
	ch <- c.maxDesc
	ch <- c.upDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	counters, summaries, err := c.provider.Snapshot(ctx)
	if err != nil {
		c.logger.Error("metrics snapshot", "domain", "metrics", "error", err)
		ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 1)
	for name, v := range counters {
		ch <- prometheus.MustNewConstMetric(c.counterDesc, prometheus.CounterValue, float64(v), name)
	}
	for name, s := range summaries {
		ch <- prometheus.MustNewConstSummary(c.summaryDesc, uint64(s.Count), float64(s.Sum), nil, name)
		ch <- prometheus.MustNewConstMetric(c.minDesc, prometheus.GaugeValue, float64(s.Min), name)
		ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(s.Max), name)
	}
}

// NewRegistry returns a registry holding c together with the Go runtime and
// process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
