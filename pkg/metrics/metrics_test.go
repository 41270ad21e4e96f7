package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	t.Fatalf("metric has neither counter nor gauge value")
	return 0
}

func TestRecordBlockProcessedIncrementsCounter(t *testing.T) {
	before := counterValue(t, blocksProcessed.WithLabelValues("QmTest", "mainnet"))
	RecordBlockProcessed("QmTest", "mainnet")
	after := counterValue(t, blocksProcessed.WithLabelValues("QmTest", "mainnet"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordOperationsCommittedAddsPerOpKind(t *testing.T) {
	before := counterValue(t, entitiesCommitted.WithLabelValues("QmTest", "set"))
	RecordOperationsCommitted("QmTest", map[string]int{"set": 3})
	after := counterValue(t, entitiesCommitted.WithLabelValues("QmTest", "set"))
	if after != before+3 {
		t.Fatalf("expected counter to increase by 3, got %v -> %v", before, after)
	}
}

func TestRecordHandlerInvocationCountsOnlyNonOkOutcomesAsFailures(t *testing.T) {
	before := counterValue(t, handlerFailures.WithLabelValues("QmTest", "ds-1"))
	RecordHandlerInvocation("QmTest", "ds-1", "ok", 10*time.Millisecond)
	afterOK := counterValue(t, handlerFailures.WithLabelValues("QmTest", "ds-1"))
	if afterOK != before {
		t.Fatalf("expected an ok outcome not to count as a failure")
	}

	RecordHandlerInvocation("QmTest", "ds-1", "trapped", 10*time.Millisecond)
	afterTrapped := counterValue(t, handlerFailures.WithLabelValues("QmTest", "ds-1"))
	if afterTrapped != before+1 {
		t.Fatalf("expected a trapped outcome to increment failures by 1, got %v -> %v", before, afterTrapped)
	}
}

func TestSetActiveSubscriptionsSetsGaugeValue(t *testing.T) {
	SetActiveSubscriptions(7)
	if v := counterValue(t, activeSubscriptions); v != 7 {
		t.Fatalf("expected gauge value 7, got %v", v)
	}
	SetActiveSubscriptions(0)
}

func TestSetAssignmentsRunningSetsGaugeValue(t *testing.T) {
	SetAssignmentsRunning(3)
	if v := counterValue(t, assignmentsRunning); v != 3 {
		t.Fatalf("expected gauge value 3, got %v", v)
	}
	SetAssignmentsRunning(0)
}

func TestHandlerServesRegisteredMetricFamilies(t *testing.T) {
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "indexnode_subscription_active") {
		t.Fatalf("expected Handler to serve the registered collectors, got %q", rec.Body.String())
	}
}
