package presence

import (
	"context"

	"go.uber.org/zap"
)

// The CharacterOnline marker is refcounted by existence: it is present exactly
// while some AppSession of the character is AUTHORIZED or ONLINE. Only
// markOnline and markOffline touch it, and both run under the
// "character.<id>" lock, so every marker transition reaches the observer once.
//
// Lock order: a session lock may be held while taking a character lock, never
// the other way round.

func (m *Machine) markOnline(ctx context.Context, characterID string) {
	err := m.withLock(ctx, characterLockName(characterID), func(ctx context.Context) error {
		created, err := m.backend.Markers.AddOnline(ctx, characterID)
		if err != nil {
			return err
		}
		if created {
			m.metrics.marker(m.backend.App, "online")
			m.observer.OnCharacterOnline(ctx, m.backend.App, characterID)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("mark character online failed",
			zap.String("character", characterID),
			zap.Error(err),
		)
	}
}

func (m *Machine) markOffline(ctx context.Context, characterID string) {
	if characterID == "" {
		return
	}
	err := m.withLock(ctx, characterLockName(characterID), func(ctx context.Context) error {
		removed, err := m.backend.Markers.RemoveOnline(ctx, characterID)
		if err != nil {
			return err
		}
		if removed {
			m.metrics.marker(m.backend.App, "offline")
			m.observer.OnCharacterOffline(ctx, m.backend.App, characterID)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("mark character offline failed",
			zap.String("character", characterID),
			zap.Error(err),
		)
	}
}

// CharactersOnline lists the characters currently marked online.
func (m *Machine) CharactersOnline(ctx context.Context) ([]string, error) {
	return m.backend.Markers.Online(ctx)
}
