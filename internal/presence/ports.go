package presence

import (
	"context"
	"time"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

// SessionStore holds the Session records of one application.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (Session, bool, error)
	PutSession(ctx context.Context, sess Session) error
}

// AppSessionStore holds AppSession records of every application, indexed by
// timeout and by character.
type AppSessionStore interface {
	Get(ctx context.Context, key string) (AppSession, bool, error)
	Put(ctx context.Context, as AppSession) error
	Delete(ctx context.Context, key string) error
	// ExpiredBefore returns records whose timeout is not after t, oldest first.
	ExpiredBefore(ctx context.Context, t time.Time) ([]AppSession, error)
	ByCharacters(ctx context.Context, characterIDs []string) ([]AppSession, error)
	List(ctx context.Context) ([]AppSession, error)
}

// MarkerStore keeps the CharacterOnline markers of one application.
type MarkerStore interface {
	// AddOnline creates the marker, reporting whether it was absent before.
	AddOnline(ctx context.Context, characterID string) (bool, error)
	// RemoveOnline deletes the marker, reporting whether it was present.
	RemoveOnline(ctx context.Context, characterID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

// Directory resolves the characters owned by the same player.
type Directory interface {
	// Siblings returns every character of the player owning characterID,
	// characterID included.
	Siblings(ctx context.Context, characterID string) ([]string, error)
}

// ActivityLog keeps a short per-session history of transitions.
type ActivityLog interface {
	Record(ctx context.Context, entry Activity) error
}

type UnlockFunc func(ctx context.Context) error

// Locker grants mutual exclusion over a set of named keys.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (UnlockFunc, error)
}

// Notifier delivers packets to client channels. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, channel string, packets ...protocol.Packet) error
}

// PresenceObserver is told when a character's online marker appears or goes away.
type PresenceObserver interface {
	OnCharacterOnline(ctx context.Context, app, characterID string)
	OnCharacterOffline(ctx context.Context, app, characterID string)
}

// Observers fans a notification out to several observers in order.
type Observers []PresenceObserver

func (o Observers) OnCharacterOnline(ctx context.Context, app, characterID string) {
	for _, obs := range o {
		obs.OnCharacterOnline(ctx, app, characterID)
	}
}

func (o Observers) OnCharacterOffline(ctx context.Context, app, characterID string) {
	for _, obs := range o {
		obs.OnCharacterOffline(ctx, app, characterID)
	}
}

// Backend is the per-application store and lock pair the state machine runs against.
type Backend struct {
	App       string
	Sessions  SessionStore
	Markers   MarkerStore
	Directory Directory
	Activity  ActivityLog
	Locker    Locker
	Policy    Policy
}
