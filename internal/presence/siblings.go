package presence

import (
	"context"

	"github.com/Akido22/mmogamelab/internal/protocol"
	"go.uber.org/zap"
)

// logoutOthers drops the sibling sessions that conflict with characterID
// having become active on exceptSession. It must run with no session lock
// held; each sibling is locked on its own, one at a time.
func (m *Machine) logoutOthers(ctx context.Context, exceptSession, characterID string) {
	characters := []string{characterID}
	if m.backend.Policy != PolicySimultaneous && m.backend.Directory != nil {
		siblings, err := m.backend.Directory.Siblings(ctx, characterID)
		if err != nil {
			m.logger.Warn("resolve player characters failed",
				zap.String("character", characterID),
				zap.Error(err),
			)
		} else if len(siblings) > 0 {
			characters = siblings
		}
	}

	candidates, err := m.appSessions.ByCharacters(ctx, characters)
	if err != nil {
		m.logger.Warn("query sibling sessions failed",
			zap.String("character", characterID),
			zap.Error(err),
		)
		return
	}

	for _, as := range candidates {
		if as.Session == exceptSession {
			continue
		}
		owner := m.route(as.App)
		dropped, err := owner.drop(ctx, as.Key(), as.Session, m.backend.App, characterID)
		if err != nil {
			m.logger.Warn("drop sibling session failed",
				zap.String("sibling", as.Key()),
				zap.Error(err),
			)
			continue
		}
		if !dropped {
			continue
		}
		m.metrics.forcedLogout(as.App)
		m.logger.Info("sibling session logged out",
			zap.String("session", exceptSession),
			zap.String("sibling", as.Key()),
			zap.String("character", as.Character),
			zap.Stringer("policy", m.backend.Policy),
		)
		if m.notifier == nil {
			continue
		}
		if err := m.notifier.Notify(ctx, protocol.ChannelID(as.Session), protocol.ClosePacket()); err != nil {
			m.logger.Info("push close failed",
				zap.String("sibling", as.Key()),
				zap.Error(err),
			)
		}
	}
}

func (m *Machine) route(app string) *Machine {
	if app == m.backend.App {
		return m
	}
	if owner, ok := m.registry.Lookup(app); ok {
		return owner
	}
	m.logger.Warn("sibling app not registered, using local backend", zap.String("sibling_app", app))
	return m
}

// drop removes one sibling AppSession under its session lock. The record is
// reloaded first since it may have changed since the index query. The online
// marker is kept when the activating connection holds the same character in
// the same application.
func (m *Machine) drop(ctx context.Context, key, sessionID, activeApp, activeCharacter string) (bool, error) {
	dropped := false
	err := m.withLock(ctx, sessionLockName(sessionID), func(ctx context.Context) error {
		as, found, err := m.appSessions.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		if as.State.Active() {
			sess, found, err := m.backend.Sessions.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if found {
				sess.demote(m.now())
				if err := m.backend.Sessions.PutSession(ctx, sess); err != nil {
					return err
				}
			} else {
				m.sessionMissing("logout-others", sessionID)
			}
		} else {
			m.logger.Debug("clearing timed out sibling",
				zap.String("session", sessionID),
				zap.Stringer("state", as.State),
			)
		}
		if err := m.appSessions.Delete(ctx, key); err != nil {
			return err
		}
		m.transition("kick", sessionID, as.State, StateAbsent)
		m.record(ctx, ActKicked, sessionID, as.Character, "")

		if as.State.Active() && (m.backend.App != activeApp || as.Character != activeCharacter) {
			m.markOffline(ctx, as.Character)
		}
		dropped = true
		return nil
	})
	return dropped, err
}
