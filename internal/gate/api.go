// internal/gate/api.go
package gate

import (
	"context"
	"time"

	"github.com/Akido22/mmogamelab/internal/presence"
)

// Presence is the state machine surface the gate drives.
type Presence interface {
	Connected(ctx context.Context, sessionID string) error
	Disconnected(ctx context.Context, sessionID string) error
	Login(ctx context.Context, sessionID, characterID string) error
	Logout(ctx context.Context, sessionID string) error
	Ready(ctx context.Context, sessionID, ip string) (presence.ReadyResult, error)
}

// SessionEnsurer creates the Session record of a connection that arrives
// before the authentication side has stored one.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, sessionID, ip string, now time.Time) (bool, error)
}
