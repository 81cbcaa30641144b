// Package metrics exposes operational gauges for scraping: chunk
// embedding states and outbox lag. Values are read from the relational
// store at collect time, so the endpoint always reflects current state
// without a background sampler.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// collectTimeout bounds the store reads behind one scrape.
const collectTimeout = 5 * time.Second

// Source is the slice of the relational store the collector reads.
type Source interface {
	ChunkStatusCounts(ctx context.Context) (map[string]int64, error)
	OutboxDepth(ctx context.Context) (int64, error)
	OutboxPendingByType(ctx context.Context) (map[string]int64, error)
	OutboxOldestPendingAge(ctx context.Context) (time.Duration, error)
}

// Collector reads pipeline gauges from the store on every scrape.
type Collector struct {
	source Source
	logger *zap.Logger

	chunksTotal   *prometheus.Desc
	outboxDepth   *prometheus.Desc
	outboxPending *prometheus.Desc
	outboxOldest  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(source Source, logger *zap.Logger) *Collector {
	return &Collector{
		source: source,
		logger: logger,
		chunksTotal: prometheus.NewDesc(
			"memex_chunks_total",
			"Chunks by embedding status.",
			[]string{"status"}, nil),
		outboxDepth: prometheus.NewDesc(
			"memex_outbox_depth",
			"Outbox events not yet applied to the graph.",
			nil, nil),
		outboxPending: prometheus.NewDesc(
			"memex_outbox_pending_events",
			"Pending outbox events by type.",
			[]string{"event_type"}, nil),
		outboxOldest: prometheus.NewDesc(
			"memex_outbox_oldest_pending_seconds",
			"Age of the oldest pending outbox event.",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.chunksTotal
	ch <- c.outboxDepth
	ch <- c.outboxPending
	ch <- c.outboxOldest
}

// Collect emits every gauge it can read. A failing store read drops
// that gauge from the scrape instead of failing the whole endpoint.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if counts, err := c.source.ChunkStatusCounts(ctx); err == nil {
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.chunksTotal, prometheus.GaugeValue, float64(n), status)
		}
	} else {
		c.logger.Warn("chunk status metrics unavailable", zap.Error(err))
	}

	if depth, err := c.source.OutboxDepth(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(
			c.outboxDepth, prometheus.GaugeValue, float64(depth))
	} else {
		c.logger.Warn("outbox depth metric unavailable", zap.Error(err))
	}

	if pending, err := c.source.OutboxPendingByType(ctx); err == nil {
		for eventType, n := range pending {
			ch <- prometheus.MustNewConstMetric(
				c.outboxPending, prometheus.GaugeValue, float64(n), eventType)
		}
	} else {
		c.logger.Warn("outbox pending metrics unavailable", zap.Error(err))
	}

	if age, err := c.source.OutboxOldestPendingAge(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(
			c.outboxOldest, prometheus.GaugeValue, age.Seconds())
	} else {
		c.logger.Warn("outbox age metric unavailable", zap.Error(err))
	}
}

// Handler serves the gauges on a private registry so scrapes carry
// exactly the pipeline metrics.
func Handler(source Source, logger *zap.Logger) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source, logger))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
