package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Machine drives the presence transitions of one application. All mutations of
// a session's AppSession and Session happen under the "session.<uuid>" lock of
// the application's Locker.
type Machine struct {
	backend     Backend
	appSessions AppSessionStore
	registry    *Registry
	timing      Timing
	observer    PresenceObserver
	notifier    Notifier
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
}

type Option func(*Machine)

func WithTiming(t Timing) Option {
	return func(m *Machine) {
		m.timing = t
	}
}

func WithObserver(o PresenceObserver) Option {
	return func(m *Machine) {
		m.observer = o
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Machine) {
		m.notifier = n
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Machine) {
		m.metrics = metrics
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithRegistry lets the machine route sibling sessions of other applications
// to their owning machine.
func WithRegistry(r *Registry) Option {
	return func(m *Machine) {
		m.registry = r
	}
}

func NewMachine(backend Backend, appSessions AppSessionStore, opts ...Option) *Machine {
	m := &Machine{
		backend:     backend,
		appSessions: appSessions,
		timing:      DefaultTiming(),
		observer:    Observers(nil),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.observer == nil {
		m.observer = Observers(nil)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("app", backend.App))
	return m
}

func (m *Machine) App() string {
	return m.backend.App
}

func (m *Machine) Policy() Policy {
	return m.backend.Policy
}

func sessionLockName(sessionID string) string {
	return "session." + sessionID
}

func characterLockName(characterID string) string {
	return "character." + characterID
}

func (m *Machine) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	unlock, err := m.backend.Locker.Lock(ctx, name)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			m.logger.Warn("release lock failed",
				zap.String("lock", name),
				zap.Error(err),
			)
		}
	}()
	return fn(ctx)
}

// loadAppSession returns the stored record or a fresh absent one.
func (m *Machine) loadAppSession(ctx context.Context, sessionID string) (AppSession, error) {
	key := AppSessionKey(m.backend.App, sessionID)
	as, found, err := m.appSessions.Get(ctx, key)
	if err != nil {
		return AppSession{}, fmt.Errorf("load app session %s: %w", key, err)
	}
	if !found {
		return AppSession{App: m.backend.App, Session: sessionID, State: StateAbsent}, nil
	}
	return as, nil
}

func (m *Machine) save(ctx context.Context, sess Session, as AppSession) error {
	if err := m.backend.Sessions.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("store session %s: %w", sess.UUID, err)
	}
	if err := m.appSessions.Put(ctx, as); err != nil {
		return fmt.Errorf("store app session %s: %w", as.Key(), err)
	}
	return nil
}

func (m *Machine) sessionMissing(op, sessionID string) {
	m.logger.Info("session not found",
		zap.String("op", op),
		zap.String("session", sessionID),
	)
}

func (m *Machine) record(ctx context.Context, act, sessionID, characterID, ip string) {
	if m.backend.Activity == nil {
		return
	}
	entry := Activity{
		Act:       act,
		Session:   sessionID,
		Character: characterID,
		IP:        ip,
		At:        m.now(),
	}
	if err := m.backend.Activity.Record(ctx, entry); err != nil {
		m.logger.Debug("record activity failed",
			zap.String("act", act),
			zap.String("session", sessionID),
			zap.Error(err),
		)
	}
}

func (m *Machine) transition(op, sessionID string, from, to State) {
	m.metrics.transition(m.backend.App, op, from, to)
	m.logger.Debug("session transition",
		zap.String("op", op),
		zap.String("session", sessionID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Login moves the session to AUTHORIZED for characterID and then logs out
// conflicting sibling sessions.
func (m *Machine) Login(ctx context.Context, sessionID, characterID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	if characterID == "" {
		return ErrEmptyCharacter
	}

	enforce := false
	err := m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !found {
			m.sessionMissing("login", sessionID)
			return nil
		}
		as, err := m.loadAppSession(ctx, sessionID)
		if err != nil {
			return err
		}

		now := m.now()
		oldState, oldCharacter := as.State, as.Character
		if oldState == StateAuthorized && oldCharacter == characterID &&
			now.Sub(as.Updated) < m.timing.LoginDebounce {
			m.logger.Debug("login debounced",
				zap.String("session", sessionID),
				zap.String("character", characterID),
			)
			return nil
		}

		changed := oldCharacter != "" && oldCharacter != characterID
		wentOnline := oldState == StateAbsent || oldState == StateDisconnected || changed
		wentOffline := changed && oldState.Active()

		as.State = StateAuthorized
		as.Timeout = now.Add(m.timing.AuthorizedGrace)
		as.Character = characterID
		as.Updated = now
		sess.authorize(characterID, now)
		if err := m.save(ctx, sess, as); err != nil {
			return err
		}
		m.transition("login", sessionID, oldState, as.State)

		if wentOffline {
			m.record(ctx, ActLogout, sessionID, oldCharacter, "")
			m.markOffline(ctx, oldCharacter)
		}
		if wentOnline {
			m.record(ctx, ActLogin, sessionID, characterID, sess.IP)
			m.markOnline(ctx, characterID)
		}
		enforce = true
		return nil
	})
	if err != nil {
		return err
	}
	if enforce {
		m.logoutOthers(ctx, sessionID, characterID)
	}
	return nil
}

// Connected handles a transport connection opening. Only a DISCONNECTED session
// whose semi_user is its own character comes back ONLINE.
func (m *Machine) Connected(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}

	var characterID string
	err := m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !found {
			m.sessionMissing("connect", sessionID)
			return nil
		}
		as, err := m.loadAppSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if as.State != StateDisconnected || as.Character == "" || sess.SemiUser != as.Character {
			return nil
		}

		now := m.now()
		oldState := as.State
		as.State = StateOnline
		as.Timeout = now.Add(m.timing.OnlineTimeout)
		as.Updated = now
		sess.authorize(as.Character, now)
		if err := m.save(ctx, sess, as); err != nil {
			return err
		}
		m.transition("connect", sessionID, oldState, as.State)

		m.record(ctx, ActReconnect, sessionID, as.Character, sess.IP)
		m.markOnline(ctx, as.Character)
		characterID = as.Character
		return nil
	})
	if err != nil {
		return err
	}
	if characterID != "" {
		m.logoutOthers(ctx, sessionID, characterID)
	}
	return nil
}

// Ready answers the client readiness poll. Repeated calls while ONLINE only
// push the timeout forward.
func (m *Machine) Ready(ctx context.Context, sessionID, ip string) (ReadyResult, error) {
	if sessionID == "" {
		return ReadyLoggedOut, nil
	}
	sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return ReadyOffline, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !found || sess.User == "" {
		return ReadyLoggedOut, nil
	}

	result := ReadyOffline
	var characterID string
	err = m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !found {
			m.sessionMissing("ready", sessionID)
			result = ReadyLoggedOut
			return nil
		}
		as, err := m.loadAppSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if as.Character == "" {
			return nil
		}

		now := m.now()
		oldState := as.State
		wentOnline := oldState == StateDisconnected || oldState == StateAbsent
		as.State = StateOnline
		as.Timeout = now.Add(m.timing.OnlineTimeout)
		as.Updated = now
		sess.User = as.Character
		sess.SemiUser = ""
		sess.Character = true
		sess.Authorized = true
		if wentOnline {
			sess.Updated = now
			if ip != "" {
				sess.IP = ip
			}
		}
		if err := m.save(ctx, sess, as); err != nil {
			return err
		}
		if oldState != StateOnline {
			m.transition("ready", sessionID, oldState, as.State)
		}

		if wentOnline {
			m.record(ctx, ActReady, sessionID, as.Character, ip)
			m.markOnline(ctx, as.Character)
			characterID = as.Character
		}
		result = ReadyOK
		return nil
	})
	if err != nil {
		return ReadyOffline, err
	}
	if characterID != "" {
		m.logoutOthers(ctx, sessionID, characterID)
	}
	return result, nil
}

// Disconnected handles a transport connection closing. Only ONLINE sessions move.
func (m *Machine) Disconnected(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	return m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !found {
			m.sessionMissing("disconnect", sessionID)
			return nil
		}
		as, err := m.loadAppSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if as.State != StateOnline {
			return nil
		}

		now := m.now()
		as.State = StateDisconnected
		as.Timeout = now.Add(m.timing.OnlineTimeout)
		as.Updated = now
		sess.demote(now)
		if err := m.save(ctx, sess, as); err != nil {
			return err
		}
		m.transition("disconnect", sessionID, StateOnline, as.State)

		m.record(ctx, ActDisconnect, sessionID, as.Character, "")
		m.markOffline(ctx, as.Character)
		return nil
	})
}

// Logout removes the AppSession whatever its state. Calling it again is a no-op.
func (m *Machine) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	return m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if !found {
			m.sessionMissing("logout", sessionID)
			return nil
		}
		as, err := m.loadAppSession(ctx, sessionID)
		if err != nil {
			return err
		}

		now := m.now()
		sess.demote(now)
		if err := m.backend.Sessions.PutSession(ctx, sess); err != nil {
			return fmt.Errorf("store session %s: %w", sessionID, err)
		}
		if err := m.appSessions.Delete(ctx, as.Key()); err != nil {
			return fmt.Errorf("delete app session %s: %w", as.Key(), err)
		}
		if as.State == StateAbsent {
			return nil
		}
		m.transition("logout", sessionID, as.State, StateAbsent)

		if as.State.Active() {
			m.record(ctx, ActLogout, sessionID, as.Character, "")
			m.markOffline(ctx, as.Character)
		}
		return nil
	})
}
