// Package health tracks per-broker reachability so the status server and
// the cycle summary can report which brokers are being swept successfully.
package health

import (
	"sync"
	"time"

	"github.com/gale-rmm/reaper/internal/logging"
)

var log = logging.L("health")

// Status represents the health of a single broker.
type Status string

const (
	Healthy   Status = "healthy"
	Unhealthy Status = "unhealthy"
)

// BrokerCheck stores the latest sweep result for one broker.
type BrokerCheck struct {
	Broker    string    `json:"broker"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Sessions  int       `json:"sessions"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks the health of every broker seen in recent cycles.
// Brokers removed from the allowlist file are pruned on the next cycle.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]BrokerCheck
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]BrokerCheck)}
}

// MarkHealthy records a successful sweep of a broker.
func (m *Monitor) MarkHealthy(broker string, sessions int) {
	m.set(BrokerCheck{
		Broker:    broker,
		Status:    Healthy,
		Sessions:  sessions,
		UpdatedAt: time.Now(),
	})
}

// MarkUnhealthy records a failed sweep of a broker.
func (m *Monitor) MarkUnhealthy(broker, message string) {
	m.set(BrokerCheck{
		Broker:    broker,
		Status:    Unhealthy,
		Message:   message,
		UpdatedAt: time.Now(),
	})
	log.Warn("broker unhealthy", "broker", broker, "message", message)
}

// Prune drops brokers no longer present in the allowlist.
func (m *Monitor) Prune(active []string) {
	keep := make(map[string]bool, len(active))
	for _, b := range active {
		keep[b] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.checks {
		if !keep[name] {
			delete(m.checks, name)
		}
	}
}

// Get returns the check for a broker.
func (m *Monitor) Get(broker string) (BrokerCheck, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[broker]
	return c, ok
}

// Overall returns Unhealthy if any tracked broker is unhealthy.
// With no tracked brokers it returns Healthy.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.checks {
		if c.Status == Unhealthy {
			return Unhealthy
		}
	}
	return Healthy
}

// All returns a snapshot of all broker checks.
func (m *Monitor) All() []BrokerCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BrokerCheck, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	return out
}

// Summary returns a JSON-friendly map for the status endpoint.
func (m *Monitor) Summary() map[string]any {
	checks := m.All()
	brokers := make(map[string]string, len(checks))
	for _, c := range checks {
		brokers[c.Broker] = string(c.Status)
	}
	return map[string]any{
		"status":  string(m.Overall()),
		"brokers": brokers,
	}
}

func (m *Monitor) set(c BrokerCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[c.Broker] = c
}
