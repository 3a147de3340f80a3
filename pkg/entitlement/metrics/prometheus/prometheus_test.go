package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestPrometheusMetrics_RecordTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordTransition(entitlement.EventCheckoutCompleted, "applied")
	metrics.RecordTransition(entitlement.EventCheckoutCompleted, "noop")
	metrics.RecordTransition(entitlement.EventCheckoutCompleted, "noop")

	mf := findFamily(t, reg, "test_ledger_transitions_total")
	if mf == nil {
		t.Fatal("transitions metric not found")
	}

	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "outcome" {
				counts[label.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	if counts["applied"] != 1 || counts["noop"] != 2 {
		t.Errorf("unexpected transition counts: %v", counts)
	}
}

func TestPrometheusMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("activate", 5*time.Millisecond, nil)
	metrics.RecordStorageOperation("activate", 5*time.Millisecond, errors.New("down"))

	mf := findFamily(t, reg, "test_ledger_storage_operation_errors_total")
	if mf == nil {
		t.Fatal("storage error metric not found")
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
}

func TestPrometheusMetrics_CacheAndBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCacheHit("entitlement")
	metrics.RecordCacheMiss("entitlement")
	metrics.RecordCircuitBreakerStateChange("open")
	metrics.RecordPremiumCheck(true, time.Millisecond)

	for _, name := range []string{
		"test_ledger_cache_hits_total",
		"test_ledger_cache_misses_total",
		"test_ledger_circuit_breaker_state_changes_total",
		"test_ledger_premium_checks_total",
		"test_ledger_premium_check_duration_seconds",
	} {
		if findFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found", name)
		}
	}
}
