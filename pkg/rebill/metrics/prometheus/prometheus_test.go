package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

func TestPrometheusMetrics_NewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPrometheusMetrics_RecordChargeAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	// Record successful charge
	metrics.RecordChargeAttempt("user1", rebill.PlanPro, rebill.CycleMonthly, 29900, true)

	// Record failed charge
	metrics.RecordChargeAttempt("user1", rebill.PlanPro, rebill.CycleMonthly, 29900, false)

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(metric) == 0 {
		t.Error("Expected metrics to be recorded")
	}
}

func TestPrometheusMetrics_RecordRunOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordRunOutcome(10, 8, 2, 239200)
	metrics.RecordRunDuration(3 * time.Second)

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(metric) == 0 {
		t.Error("Expected sweep metrics to be recorded")
	}
}

func TestPrometheusMetrics_RecordIntegritySkip(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordIntegritySkip("user1")
	metrics.RecordIntegritySkip("user2")

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(metric) == 0 {
		t.Error("Expected integrity skip metrics to be recorded")
	}
}

func TestPrometheusMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	// Record successful storage operation
	metrics.RecordStorageOperation("Get", 10*time.Millisecond, nil)

	// Record failed storage operation
	metrics.RecordStorageOperation("Save", 20*time.Millisecond, errors.New("storage error"))

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(metric) == 0 {
		t.Error("Expected storage operation metrics to be recorded")
	}
}

func TestPrometheusMetrics_DefaultMetrics(t *testing.T) {
	metrics := DefaultMetrics("test_default")

	if metrics == nil {
		t.Fatal("DefaultMetrics returned nil")
	}

	// Verify it works
	metrics.RecordChargeAttempt("user1", rebill.PlanBasic, rebill.CycleMonthly, 9900, true)
	metrics.RecordIntegritySkip("user1")
	metrics.RecordStorageOperation("Get", time.Millisecond, nil)
}

func TestPrometheusMetrics_MultipleOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordChargeAttempt("user1", rebill.PlanPro, rebill.CycleMonthly, 29900, true)
	metrics.RecordChargeAttempt("user2", rebill.PlanPlus, rebill.CycleYearly, 167160, true)
	metrics.RecordIntegritySkip("user3")
	metrics.RecordRunDuration(2 * time.Second)
	metrics.RecordRunOutcome(3, 2, 1, 197060)
	metrics.RecordStorageOperation("ListDue", 5*time.Millisecond, nil)

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Should have multiple metric families
	if len(metric) < 5 {
		t.Errorf("Expected at least 5 metric families, got %d", len(metric))
	}
}

func TestPrometheusMetrics_ChargeAttemptLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	// Record charges with different label combinations
	metrics.RecordChargeAttempt("user1", rebill.PlanBasic, rebill.CycleMonthly, 9900, true)
	metrics.RecordChargeAttempt("user1", rebill.PlanPlus, rebill.CycleMonthly, 19900, true)
	metrics.RecordChargeAttempt("user1", rebill.PlanPro, rebill.CycleYearly, 251160, false)

	metric, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Find the attempts counter
	var attempts *dto.MetricFamily
	for _, m := range metric {
		if m.GetName() == "test_charge_attempts_total" {
			attempts = m
			break
		}
	}

	if attempts == nil {
		t.Fatal("Expected to find charge attempts metric")
	}

	// Verify multiple time series (different label combinations)
	if len(attempts.Metric) < 3 {
		t.Errorf("Expected at least 3 time series, got %d", len(attempts.Metric))
	}
}
