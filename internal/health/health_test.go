package health

import "testing"

func TestOverallEmptyIsHealthy(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Healthy {
		t.Fatalf("Overall() = %s, want healthy", got)
	}
}

func TestOverallReflectsWorstBroker(t *testing.T) {
	m := NewMonitor()
	m.MarkHealthy("ddc-01", 3)
	m.MarkUnhealthy("ddc-02", "connection refused")

	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %s, want unhealthy", got)
	}

	c, ok := m.Get("ddc-02")
	if !ok || c.Message != "connection refused" {
		t.Fatalf("Get(ddc-02) = %+v, %v", c, ok)
	}
}

func TestRecoveryClearsUnhealthy(t *testing.T) {
	m := NewMonitor()
	m.MarkUnhealthy("ddc-01", "timeout")
	m.MarkHealthy("ddc-01", 0)

	if got := m.Overall(); got != Healthy {
		t.Fatalf("Overall() = %s, want healthy after recovery", got)
	}
}

func TestPruneDropsRemovedBrokers(t *testing.T) {
	m := NewMonitor()
	m.MarkHealthy("ddc-01", 1)
	m.MarkUnhealthy("ddc-02", "gone")

	m.Prune([]string{"ddc-01"})

	if _, ok := m.Get("ddc-02"); ok {
		t.Fatal("ddc-02 should be pruned")
	}
	if got := m.Overall(); got != Healthy {
		t.Fatalf("Overall() = %s, want healthy after prune", got)
	}
}

func TestSummaryShape(t *testing.T) {
	m := NewMonitor()
	m.MarkHealthy("ddc-01", 2)

	s := m.Summary()
	if s["status"] != "healthy" {
		t.Fatalf("status = %v", s["status"])
	}
	brokers, ok := s["brokers"].(map[string]string)
	if !ok || brokers["ddc-01"] != "healthy" {
		t.Fatalf("brokers = %v", s["brokers"])
	}
}
