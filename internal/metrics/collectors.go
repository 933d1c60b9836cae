package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketintel/internal/domain/run"
	"marketintel/pkg/logger"
)

const (
	collectTimeout = 5 * time.Second
	collectMaxRuns = 1000
	collectPage    = 200
)

// RunStatsCollector reports run counts by status from the checkpoint store
// at scrape time.
type RunStatsCollector struct {
	log   *logger.Logger
	store run.CheckpointStore

	runsByStatus *prometheus.Desc
	oldestActive *prometheus.Desc
}

// NewRunStatsCollector creates a collector backed by the checkpoint store.
func NewRunStatsCollector(store run.CheckpointStore) *RunStatsCollector {
	return &RunStatsCollector{
		log:   logger.Get().With("component", "run_stats_collector"),
		store: store,

		runsByStatus: prometheus.NewDesc(
			"marketintel_runs_by_status",
			"Number of stored runs by status",
			[]string{"status"}, nil,
		),
		oldestActive: prometheus.NewDesc(
			"marketintel_oldest_active_run_age_seconds",
			"Age of the oldest non-terminal run",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *RunStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsByStatus
	ch <- c.oldestActive
}

// Collect implements prometheus.Collector
func (c *RunStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	counts := make(map[run.Status]int)
	var oldestActive time.Time

	for offset := 0; offset < collectMaxRuns; offset += collectPage {
		summaries, err := c.store.ListRuns(ctx, collectPage, offset)
		if err != nil {
			c.log.Errorw("Failed to collect run stats", "error", err)
			return
		}
		if len(summaries) == 0 {
			break
		}

		for _, s := range summaries {
			counts[s.Status]++
			if !s.Status.Terminal() {
				if oldestActive.IsZero() || s.CreatedAt.Before(oldestActive) {
					oldestActive = s.CreatedAt
				}
			}
		}

		if len(summaries) < collectPage {
			break
		}
	}

	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.runsByStatus,
			prometheus.GaugeValue,
			float64(count),
			string(status),
		)
	}

	if !oldestActive.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.oldestActive,
			prometheus.GaugeValue,
			time.Since(oldestActive).Seconds(),
		)
	}
}

// RegisterRunStatsCollector registers the collector
func RegisterRunStatsCollector(collector *RunStatsCollector) {
	prometheus.MustRegister(collector)
}
