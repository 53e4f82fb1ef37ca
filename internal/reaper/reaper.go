// Package reaper drives the reconciliation loop: reload the allowlist,
// sweep each broker's disconnected sessions against it, and log off every
// session found running an allow-listed application.
package reaper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gale-rmm/reaper/internal/allowlist"
	"github.com/gale-rmm/reaper/internal/audit"
	"github.com/gale-rmm/reaper/internal/broker"
	"github.com/gale-rmm/reaper/internal/config"
	"github.com/gale-rmm/reaper/internal/health"
	"github.com/gale-rmm/reaper/internal/logging"
	"github.com/gale-rmm/reaper/internal/session"
	"github.com/gale-rmm/reaper/internal/workerpool"
)

var log = logging.L("reaper")

// Event describes one completed logoff, for the status event stream.
type Event struct {
	CycleID   string    `json:"cycleId"`
	Broker    string    `json:"broker"`
	SessionID string    `json:"sessionId"`
	User      string    `json:"user"`
	App       string    `json:"app"`
	Alias     string    `json:"alias"`
	Time      time.Time `json:"time"`
}

// Stats is a snapshot of loop counters for the status endpoint.
type Stats struct {
	CyclesCompleted uint64    `json:"cyclesCompleted"`
	SessionsSeen    uint64    `json:"sessionsSeen"`
	SessionsReaped  uint64    `json:"sessionsReaped"`
	LogoffFailures  uint64    `json:"logoffFailures"`
	LastCycleAt     time.Time `json:"lastCycleAt,omitempty"`
}

// Reaper owns the poll loop. The allowlist file is re-read every cycle so
// edits take effect without a restart; session data is fetched fresh per
// broker per cycle and discarded at cycle end.
type Reaper struct {
	cfg       *config.Config
	source    broker.SessionSource
	logoff    broker.LogoffExecutor
	healthMon *health.Monitor
	auditLog  *audit.Logger
	pool      *workerpool.Pool
	onReap    func(Event)

	stopChan chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// New creates a reaper. source and logoff are usually the same
// *broker.Client; tests substitute fakes.
func New(cfg *config.Config, source broker.SessionSource, logoff broker.LogoffExecutor) *Reaper {
	r := &Reaper{
		cfg:       cfg,
		source:    source,
		logoff:    logoff,
		healthMon: health.NewMonitor(),
		stopChan:  make(chan struct{}),
	}
	if cfg.MaxConcurrentBrokers > 1 {
		r.pool = workerpool.New(cfg.MaxConcurrentBrokers, cfg.MaxConcurrentBrokers*4)
	}
	return r
}

// SetAuditLogger attaches an audit logger. A nil logger disables auditing.
func (r *Reaper) SetAuditLogger(l *audit.Logger) {
	r.auditLog = l
}

// OnReap registers a callback invoked after each successful logoff.
// Must be set before Run.
func (r *Reaper) OnReap(fn func(Event)) {
	r.onReap = fn
}

// HealthMonitor exposes per-broker health for the status server.
func (r *Reaper) HealthMonitor() *health.Monitor {
	return r.healthMon
}

// Stats returns a snapshot of the loop counters.
func (r *Reaper) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run executes reconciliation cycles until Stop is called. An allowlist
// load failure is fatal and returned to the caller; broker and logoff
// failures are contained within the cycle.
func (r *Reaper) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopChan
		cancel()
	}()

	interval := time.Duration(r.cfg.PollIntervalSeconds) * time.Second
	log.Info("reaper started", "allowlist", r.cfg.AllowlistPath, "interval", interval)

	for {
		if err := r.RunCycle(ctx); err != nil {
			return err
		}

		select {
		case <-time.After(interval):
		case <-r.stopChan:
			log.Info("reaper stopped")
			return nil
		}
	}
}

// Stop signals the run loop to exit. The in-flight cycle's context is
// cancelled, so blocking broker calls unwind promptly.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		if r.pool != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			r.pool.Shutdown(shutdownCtx)
		}
	})
}

// RunCycle performs a single reconciliation pass: load the allowlist,
// sweep every broker section in file order, and update stats. It returns
// an error only for allowlist load failures; those happen before any
// broker is contacted.
func (r *Reaper) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	start := time.Now()

	f, err := allowlist.Load(r.cfg.AllowlistPath)
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	brokers := f.Brokers()
	r.healthMon.Prune(brokers)

	if r.pool != nil {
		var wg sync.WaitGroup
		for _, id := range brokers {
			id := id
			entries := f.AllowList(id)
			wg.Add(1)
			task := func() {
				defer wg.Done()
				r.sweepBroker(ctx, cycleID, id, entries)
			}
			if !r.pool.Submit(task) {
				// Pool saturated or stopped; sweep inline to keep the
				// cycle complete.
				task()
			}
		}
		wg.Wait()
	} else {
		for _, id := range brokers {
			r.sweepBroker(ctx, cycleID, id, f.AllowList(id))
		}
	}

	r.mu.Lock()
	r.stats.CyclesCompleted++
	r.stats.LastCycleAt = time.Now()
	r.mu.Unlock()

	log.Debug("cycle complete",
		logging.KeyCycleID, cycleID,
		"brokers", len(brokers),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return nil
}

// sweepBroker fetches one broker's disconnected sessions and logs off
// every session that matches the broker's allowlist. Each matching
// session receives exactly one logoff request regardless of how many
// entries it matched.
func (r *Reaper) sweepBroker(ctx context.Context, cycleID, brokerID string, entries []allowlist.Entry) {
	logger := logging.WithBroker(log, brokerID, cycleID)

	sessions, err := r.source.FetchDisconnected(ctx, brokerID)
	if err != nil {
		logger.Warn("broker fetch failed, skipping this cycle", logging.KeyError, err)
		r.healthMon.MarkUnhealthy(brokerID, err.Error())
		r.auditLog.Log(audit.EventBrokerUnreachable, brokerID, "", map[string]any{"error": err.Error()})
		return
	}
	r.healthMon.MarkHealthy(brokerID, len(sessions))

	r.mu.Lock()
	r.stats.SessionsSeen += uint64(len(sessions))
	r.mu.Unlock()

	for _, s := range sessions {
		matches := session.Match(entries, s)
		if len(matches) == 0 {
			continue
		}

		// Entries carry the raw whitespace from the allowlist file; trim
		// for display and records.
		for _, m := range matches {
			logger.Info("disconnected session is running a targeted application",
				logging.KeyApp, strings.TrimSpace(m.Target),
				"alias", strings.TrimSpace(m.Alias),
				logging.KeyUser, s.UserName,
				logging.KeySessionID, s.ID,
			)
		}

		primary := matches[0]
		app := strings.TrimSpace(primary.Target)
		alias := strings.TrimSpace(primary.Alias)
		if err := r.logoff.Logoff(ctx, brokerID, s); err != nil {
			logger.Warn("logoff request failed",
				logging.KeySessionID, s.ID,
				logging.KeyUser, s.UserName,
				logging.KeyError, err,
			)
			r.auditLog.Log(audit.EventLogoffFailed, brokerID, s.ID, map[string]any{
				"user":  s.UserName,
				"app":   app,
				"error": err.Error(),
			})
			r.mu.Lock()
			r.stats.LogoffFailures++
			r.mu.Unlock()
			continue
		}

		logger.Info("logged off disconnected session",
			logging.KeyApp, app,
			logging.KeyUser, s.UserName,
			logging.KeySessionID, s.ID,
		)
		r.auditLog.Log(audit.EventSessionLogoff, brokerID, s.ID, map[string]any{
			"user":  s.UserName,
			"app":   app,
			"alias": alias,
		})

		r.mu.Lock()
		r.stats.SessionsReaped++
		r.mu.Unlock()

		if r.onReap != nil {
			r.onReap(Event{
				CycleID:   cycleID,
				Broker:    brokerID,
				SessionID: s.ID,
				User:      s.UserName,
				App:       app,
				Alias:     alias,
				Time:      time.Now(),
			})
		}
	}
}
