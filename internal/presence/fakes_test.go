package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

type memSessions struct {
	mu   sync.Mutex
	data map[string]Session
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string]Session)}
}

func (s *memSessions) GetSession(_ context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data[id]
	return sess, ok, nil
}

func (s *memSessions) PutSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sess.UUID] = sess
	return nil
}

type memAppSessions struct {
	mu   sync.Mutex
	data map[string]AppSession
}

func newMemAppSessions() *memAppSessions {
	return &memAppSessions{data: make(map[string]AppSession)}
}

func (s *memAppSessions) Get(_ context.Context, key string) (AppSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.data[key]
	return as, ok, nil
}

func (s *memAppSessions) Put(_ context.Context, as AppSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if as.State == StateAbsent {
		delete(s.data, as.Key())
		return nil
	}
	s.data[as.Key()] = as
	return nil
}

func (s *memAppSessions) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memAppSessions) sorted(keep func(AppSession) bool) []AppSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AppSession
	for _, as := range s.data {
		if keep(as) {
			out = append(out, as)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timeout.Equal(out[j].Timeout) {
			return out[i].Timeout.Before(out[j].Timeout)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func (s *memAppSessions) ExpiredBefore(_ context.Context, t time.Time) ([]AppSession, error) {
	return s.sorted(func(as AppSession) bool { return !as.Timeout.After(t) }), nil
}

func (s *memAppSessions) ByCharacters(_ context.Context, ids []string) ([]AppSession, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return s.sorted(func(as AppSession) bool { return wanted[as.Character] }), nil
}

func (s *memAppSessions) List(_ context.Context) ([]AppSession, error) {
	return s.sorted(func(AppSession) bool { return true }), nil
}

// staleAppSessions answers index queries from an earlier snapshot, as a
// lagging index would, while Get and Put see the live records.
type staleAppSessions struct {
	*memAppSessions
	expired []AppSession
	bound   []AppSession
}

func (s *staleAppSessions) ExpiredBefore(context.Context, time.Time) ([]AppSession, error) {
	return s.expired, nil
}

func (s *staleAppSessions) ByCharacters(context.Context, []string) ([]AppSession, error) {
	return s.bound, nil
}

type memMarkers struct {
	mu     sync.Mutex
	online map[string]bool
}

func newMemMarkers() *memMarkers {
	return &memMarkers{online: make(map[string]bool)}
}

func (m *memMarkers) AddOnline(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online[id] {
		return false, nil
	}
	m.online[id] = true
	return true, nil
}

func (m *memMarkers) RemoveOnline(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online[id] {
		return false, nil
	}
	delete(m.online, id)
	return true, nil
}

func (m *memMarkers) Online(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.online))
	for id := range m.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memMarkers) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[id]
}

// memDirectory maps player -> characters.
type memDirectory map[string][]string

func (d memDirectory) Siblings(_ context.Context, characterID string) ([]string, error) {
	for _, chars := range d {
		for _, c := range chars {
			if c == characterID {
				return chars, nil
			}
		}
	}
	return []string{characterID}, nil
}

type memActivity struct {
	mu      sync.Mutex
	entries []Activity
}

func (a *memActivity) Record(_ context.Context, entry Activity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memActivity) acts(sessionID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.Session == sessionID {
			out = append(out, e.Act)
		}
	}
	return out
}

// memLocker is a process-local Locker with one mutex per name.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) Lock(_ context.Context, names ...string) (UnlockFunc, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, name := range sorted {
		l.mu.Lock()
		m, ok := l.locks[name]
		if !ok {
			m = &sync.Mutex{}
			l.locks[name] = m
		}
		l.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func(context.Context) error {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		return nil
	}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (o *recordingObserver) OnCharacterOnline(_ context.Context, app, characterID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = append(o.online, app+"/"+characterID)
}

func (o *recordingObserver) OnCharacterOffline(_ context.Context, app, characterID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = append(o.offline, app+"/"+characterID)
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.online), len(o.offline)
}

type recordingNotifier struct {
	mu       sync.Mutex
	channels []string
	fail     bool
}

func (n *recordingNotifier) Notify(_ context.Context, channel string, packets ...protocol.Packet) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("push channel unreachable")
	}
	for _, p := range packets {
		if p.IsClose() {
			n.channels = append(n.channels, channel)
		}
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires machines of several apps onto shared in-memory stores.
type harness struct {
	clock       *fakeClock
	appSessions *memAppSessions
	// store is what machines are built on; appSessions unless a test swaps it
	store       AppSessionStore
	registry    *Registry
	observer    *recordingObserver
	notifier    *recordingNotifier
	sessions    map[string]*memSessions
	markers     map[string]*memMarkers
	activity    map[string]*memActivity
	machines    map[string]*Machine
}

func newHarness() *harness {
	appSessions := newMemAppSessions()
	return &harness{
		clock:       newFakeClock(),
		appSessions: appSessions,
		store:       appSessions,
		registry:    NewRegistry(),
		observer:    &recordingObserver{},
		notifier:    &recordingNotifier{},
		sessions:    make(map[string]*memSessions),
		markers:     make(map[string]*memMarkers),
		activity:    make(map[string]*memActivity),
		machines:    make(map[string]*Machine),
	}
}

func (h *harness) addApp(app string, policy Policy, dir Directory) *Machine {
	h.sessions[app] = newMemSessions()
	h.markers[app] = newMemMarkers()
	h.activity[app] = &memActivity{}
	m := NewMachine(Backend{
		App:       app,
		Sessions:  h.sessions[app],
		Markers:   h.markers[app],
		Directory: dir,
		Activity:  h.activity[app],
		Locker:    newMemLocker(),
		Policy:    policy,
	}, h.store,
		WithClock(h.clock.Now),
		WithObserver(h.observer),
		WithNotifier(h.notifier),
		WithRegistry(h.registry),
	)
	if err := h.registry.Register(m); err != nil {
		panic(err)
	}
	h.machines[app] = m
	return m
}

// newSession stores an anonymous Session, as the authentication side would.
func (h *harness) newSession(app, sid string) {
	_ = h.sessions[app].PutSession(context.Background(), Session{UUID: sid, Updated: h.clock.Now()})
}

func (h *harness) appSession(app, sid string) (AppSession, bool) {
	as, ok, _ := h.appSessions.Get(context.Background(), AppSessionKey(app, sid))
	return as, ok
}

func (h *harness) session(app, sid string) Session {
	sess, _, _ := h.sessions[app].GetSession(context.Background(), sid)
	return sess
}
