package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-userop/model"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

func TestLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg, logger.NewNoOpLogger())

	m.IncEstimation("sponsored", "ok")
	m.IncEstimation("sponsored", "ok")
	m.IncEstimation("self_funded", "EstimationFailed")
	m.IncSubmission("ok")
	m.AddPollAttempts(3)
	m.IncOutcome("confirmed")
	m.ObserveInclusion(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.numEstimations.WithLabelValues("sponsored", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.numEstimations.WithLabelValues("self_funded", "EstimationFailed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.numPollAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.numOutcomes.WithLabelValues("confirmed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.inclusionSeconds))
}

type stubJournal struct {
	pending []*model.Operation
	err     error
}

func (s *stubJournal) Pending() ([]*model.Operation, error) {
	return s.pending, s.err
}

func (s *stubJournal) Stats() (map[model.OperationState]uint64, error) {
	return map[model.OperationState]uint64{model.OperationConfirmed: 4}, s.err
}

func TestJournalCollector(t *testing.T) {
	journal := &stubJournal{pending: []*model.Operation{{ID: "a"}, {ID: "b"}}}
	c := NewJournalCollector(journal, logger.NewNoOpLogger())

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			values[f.GetName()] += m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["ap_userop_journal_pending_operations"])
	assert.Equal(t, 4.0, values["ap_userop_journal_finished_operations"])

	// a failing journal keeps the last values instead of breaking the scrape
	journal.err = errors.New("db closed")
	_, err = reg.Gather()
	assert.NoError(t, err)
}
