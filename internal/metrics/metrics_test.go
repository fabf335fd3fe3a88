package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordChartQuery(t *testing.T) {
	before := testutil.ToFloat64(ChartQueryErrors.WithLabelValues("aov"))

	RecordChartQuery("aov", 5*time.Millisecond, nil)
	RecordChartQuery("aov", 5*time.Millisecond, errors.New("boom"))

	after := testutil.ToFloat64(ChartQueryErrors.WithLabelValues("aov"))
	if after-before != 1 {
		t.Errorf("errors increased by %v, want 1", after-before)
	}
}

func TestRecordRelayEvent(t *testing.T) {
	pub := testutil.ToFloat64(RelayEvents.WithLabelValues("published"))
	drop := testutil.ToFloat64(RelayEvents.WithLabelValues("dropped"))

	RecordRelayEvent(true)
	RecordRelayEvent(true)
	RecordRelayEvent(false)

	if got := testutil.ToFloat64(
		RelayEvents.WithLabelValues("published"),
	) - pub; got != 2 {
		t.Errorf("published delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(
		RelayEvents.WithLabelValues("dropped"),
	) - drop; got != 1 {
		t.Errorf("dropped delta = %v, want 1", got)
	}
}

func TestRecordAgentRun(t *testing.T) {
	before := testutil.ToFloat64(AgentRuns.WithLabelValues("chat", "ok"))
	RecordAgentRun("chat", "ok", time.Second)
	if got := testutil.ToFloat64(
		AgentRuns.WithLabelValues("chat", "ok"),
	) - before; got != 1 {
		t.Errorf("runs delta = %v, want 1", got)
	}
}
