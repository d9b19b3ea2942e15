// Package presence tracks per-connection presence of player characters and
// reconciles it across application instances that share one player identity.
package presence

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptySession   = errors.New("presence: empty session id")
	ErrEmptyCharacter = errors.New("presence: empty character id")
	ErrUnknownApp     = errors.New("presence: unknown application")
	ErrUnknownPolicy  = errors.New("presence: unknown multicharing policy")
)

type State int

const (
	StateAbsent State = iota
	StateAuthorized
	StateOnline
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateAuthorized:
		return "authorized"
	case StateOnline:
		return "online"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether the connection holds its character (AUTHORIZED or ONLINE).
func (s State) Active() bool {
	return s == StateAuthorized || s == StateOnline
}

// Session is the per-visit login record owned by the authentication side.
type Session struct {
	UUID       string
	User       string
	SemiUser   string
	Character  bool
	Authorized bool
	IP         string
	Updated    time.Time
}

func (s *Session) authorize(characterID string, now time.Time) {
	s.User = characterID
	s.SemiUser = ""
	s.Character = true
	s.Authorized = true
	s.Updated = now
}

// demote parks the current user in SemiUser until the same character reconnects.
func (s *Session) demote(now time.Time) {
	if s.User != "" {
		s.SemiUser = s.User
		s.User = ""
	}
	s.Character = false
	s.Authorized = false
	s.Updated = now
}

// clear drops the session down to anonymous.
func (s *Session) clear(now time.Time) {
	s.User = ""
	s.SemiUser = ""
	s.Character = false
	s.Authorized = false
	s.Updated = now
}

// AppSession is the presence record of one session inside one application.
// A stored record always has a non-absent State.
type AppSession struct {
	App       string    `json:"app"`
	Session   string    `json:"session"`
	Character string    `json:"character"`
	State     State     `json:"state"`
	Timeout   time.Time `json:"timeout"`
	Updated   time.Time `json:"updated"`
}

func AppSessionKey(app, sessionID string) string {
	return app + "-" + sessionID
}

func (a AppSession) Key() string {
	return AppSessionKey(a.App, a.Session)
}

// Policy is the multicharing policy of an application.
type Policy int

const (
	PolicySingle Policy = iota
	PolicyByTurn
	PolicySimultaneous
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "single", "0":
		return PolicySingle, nil
	case "by-turn", "1":
		return PolicyByTurn, nil
	case "simultaneous", "2":
		return PolicySimultaneous, nil
	}
	return PolicySingle, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p Policy) String() string {
	switch p {
	case PolicySingle:
		return "single"
	case PolicyByTurn:
		return "by-turn"
	case PolicySimultaneous:
		return "simultaneous"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type ReadyResult int

const (
	ReadyOK ReadyResult = iota
	ReadyOffline
	ReadyLoggedOut
)

func (r ReadyResult) String() string {
	switch r {
	case ReadyOK:
		return "ok"
	case ReadyOffline:
		return "offline"
	default:
		return "logged_out"
	}
}

// Timing holds the deadlines written into AppSession.Timeout.
type Timing struct {
	// LoginDebounce suppresses repeated same-character logins while the game client loads.
	LoginDebounce time.Duration
	// AuthorizedGrace is how long an AUTHORIZED connection may wait for ready/connect.
	AuthorizedGrace time.Duration
	OnlineTimeout   time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		LoginDebounce:   10 * time.Second,
		AuthorizedGrace: 120 * time.Second,
		OnlineTimeout:   3600 * time.Second,
	}
}

// Activity is one entry of a session's activity log.
type Activity struct {
	Act       string    `json:"act"`
	Session   string    `json:"session"`
	Character string    `json:"character,omitempty"`
	IP        string    `json:"ip,omitempty"`
	At        time.Time `json:"at"`
}

const (
	ActLogin      = "login"
	ActLogout     = "logout"
	ActReady      = "ready"
	ActReconnect  = "reconnect"
	ActDisconnect = "disconnect"
	ActTimeout    = "timeout"
	ActExpire     = "expire"
	ActKicked     = "kicked"
)
