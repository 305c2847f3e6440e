package metrics

import (
	"fmt"

	"github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AvaProtocol/ap-userop/model"
)

type MetricsOnlyLogger struct {
	logging.Logger
}

func (l *MetricsOnlyLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(fmt.Sprintf("[METRICS ONLY] %s", msg), keysAndValues...)
}

func (l *MetricsOnlyLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf("[METRICS ONLY] "+format, args...)
}

// JournalReader is satisfied by *journal.Journal.
type JournalReader interface {
	Pending() ([]*model.Operation, error)
	Stats() (map[model.OperationState]uint64, error)
}

// JournalCollector exposes the local journal as gauges, read at scrape time.
type JournalCollector struct {
	journal JournalReader
	logger  logging.Logger

	pending  prometheus.Gauge
	finished *prometheus.GaugeVec
}

func NewJournalCollector(journal JournalReader, logger logging.Logger) prometheus.Collector {
	return &JournalCollector{
		journal: journal,
		logger:  &MetricsOnlyLogger{Logger: logger},

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: apNamespace,
			Subsystem: "journal",
			Name:      "pending_operations",
			Help:      "Submitted operations without a receipt yet, timed out ones included",
		}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: apNamespace,
			Subsystem: "journal",
			Name:      "finished_operations",
			Help:      "Operations recorded in the journal by final state",
		}, []string{"state"}),
	}
}

func (c *JournalCollector) Describe(ch chan<- *prometheus.Desc) {
	c.pending.Describe(ch)
	c.finished.Describe(ch)
}

func (c *JournalCollector) Collect(ch chan<- prometheus.Metric) {
	if pending, err := c.journal.Pending(); err != nil {
		c.logger.Error("cannot read pending operations", "error", err)
	} else {
		c.pending.Set(float64(len(pending)))
	}

	if stats, err := c.journal.Stats(); err != nil {
		c.logger.Error("cannot read journal stats", "error", err)
	} else {
		for state, n := range stats {
			c.finished.WithLabelValues(string(state)).Set(float64(n))
		}
	}

	c.pending.Collect(ch)
	c.finished.Collect(ch)
}
