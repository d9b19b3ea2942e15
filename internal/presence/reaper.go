package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type SweepOutcome int

const (
	SweepSkipped SweepOutcome = iota
	SweepDisconnected
	SweepRemoved
)

func (o SweepOutcome) String() string {
	switch o {
	case SweepDisconnected:
		return "disconnected"
	case SweepRemoved:
		return "removed"
	default:
		return "skipped"
	}
}

type SweepStats struct {
	Scanned      int `json:"scanned"`
	Disconnected int `json:"disconnected"`
	Removed      int `json:"removed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Reaper ages out AppSessions whose timeout has passed. Each record is handed
// to the machine of the application that owns it.
type Reaper struct {
	appSessions AppSessionStore
	registry    *Registry
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time

	mu         sync.Mutex
	warnedApps map[string]struct{}
}

type ReaperOption func(*Reaper)

func WithReaperMetrics(metrics *Metrics) ReaperOption {
	return func(r *Reaper) {
		r.metrics = metrics
	}
}

func WithReaperLogger(logger *zap.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

func NewReaper(appSessions AppSessionStore, registry *Registry, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		appSessions: appSessions,
		registry:    registry,
		logger:      zap.NewNop(),
		now:         time.Now,
		warnedApps:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("idle sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes every AppSession whose timeout has elapsed. A failure on one
// record is logged and the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	now := r.now()
	expired, err := r.appSessions.ExpiredBefore(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("query expired app sessions: %w", err)
	}

	for _, as := range expired {
		stats.Scanned++
		outcome, err := r.reap(ctx, as, now)
		if err != nil {
			stats.Failed++
			r.metrics.sweep("failed")
			r.logger.Error("reap app session failed",
				zap.String("app_session", as.Key()),
				zap.Error(err),
			)
			continue
		}
		r.metrics.sweep(outcome.String())
		switch outcome {
		case SweepDisconnected:
			stats.Disconnected++
		case SweepRemoved:
			stats.Removed++
		default:
			stats.Skipped++
		}
	}

	if stats.Scanned > 0 {
		r.logger.Info("idle sweep done",
			zap.Int("scanned", stats.Scanned),
			zap.Int("disconnected", stats.Disconnected),
			zap.Int("removed", stats.Removed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}

func (r *Reaper) reap(ctx context.Context, as AppSession, now time.Time) (outcome SweepOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	owner, ok := r.registry.Lookup(as.App)
	if !ok {
		// 其他节点负责的应用，留给它们处理
		r.warnUnknownApp(as.App)
		return SweepSkipped, nil
	}
	return owner.expire(ctx, as.Key(), as.Session, now)
}

func (r *Reaper) warnUnknownApp(app string) {
	r.mu.Lock()
	_, seen := r.warnedApps[app]
	r.warnedApps[app] = struct{}{}
	r.mu.Unlock()
	if seen {
		return
	}
	r.logger.Warn("no machine for app, leaving its sessions to other nodes",
		zap.String("app", app),
		zap.Error(ErrUnknownApp),
	)
}

// expire advances one timed out AppSession: an active connection becomes
// DISCONNECTED, a DISCONNECTED one is removed and its Session cleared.
func (m *Machine) expire(ctx context.Context, key, sessionID string, now time.Time) (SweepOutcome, error) {
	outcome := SweepSkipped
	err := m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		as, found, err := m.appSessions.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found || as.Timeout.After(now) {
			return nil
		}
		sess, sessFound, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sessFound {
			m.sessionMissing("expire", sessionID)
		}

		if as.State.Active() {
			m.logger.Debug("session timed out",
				zap.String("session", sessionID),
				zap.Stringer("from", as.State),
			)
			oldState := as.State
			as.State = StateDisconnected
			as.Timeout = now.Add(m.timing.OnlineTimeout)
			as.Updated = now
			if sessFound {
				sess.demote(now)
				if err := m.backend.Sessions.PutSession(ctx, sess); err != nil {
					return err
				}
			}
			if err := m.appSessions.Put(ctx, as); err != nil {
				return err
			}
			m.transition("timeout", sessionID, oldState, as.State)
			m.record(ctx, ActTimeout, sessionID, as.Character, "")
			m.markOffline(ctx, as.Character)
			outcome = SweepDisconnected
			return nil
		}

		m.logger.Debug("session destroyed on timeout",
			zap.String("session", sessionID),
			zap.Stringer("from", as.State),
		)
		if sessFound {
			sess.clear(now)
			if err := m.backend.Sessions.PutSession(ctx, sess); err != nil {
				return err
			}
		}
		if err := m.appSessions.Delete(ctx, key); err != nil {
			return err
		}
		m.transition("expire", sessionID, as.State, StateAbsent)
		m.record(ctx, ActExpire, sessionID, as.Character, "")
		outcome = SweepRemoved
		return nil
	})
	return outcome, err
}
