package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAgainstGivenRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTurn("single_turn", "ok", 250*time.Millisecond)
	if count := testutil.CollectAndCount(m.TurnsTotal); count != 1 {
		t.Fatalf("expected one label combination, got %d", count)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("single_turn", "ok")); got != 1 {
		t.Fatalf("expected counter to be 1, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	// None of these may panic on a nil *Metrics.
	m.ObserveTurn("single_turn", "ok", time.Second)
	m.IncTaskIteration()
	m.ObserveToolCall("search", "ok", false, time.Millisecond)
	m.IncDeadLetter()
	m.IncCheckpoint("auto")
	m.IncContextClamp()
}

func TestTwoMetricsInstancesOnSeparateRegistriesDoNotCollide(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	// Constructing two independent Metrics against two independent registries must not panic
	// with a duplicate-collector registration error, the way calling promauto twice against the
	// shared default registry would.
	NewMetrics(regA)
	NewMetrics(regB)
}
