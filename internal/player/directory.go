// Package player maps characters to the player account that owns them.
package player

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
)

var ErrEmptyID = errors.New("player: empty id")

// RedisDirectory keeps character ownership of one application.
type RedisDirectory struct {
	dao  *redis_tools.RedisDao
	keys redis_tools.AppKeys
}

func NewRedisDirectory(dao *redis_tools.RedisDao, app string) *RedisDirectory {
	return &RedisDirectory{
		dao:  dao,
		keys: redis_tools.NewAppKeys(app),
	}
}

// ======================
// Ownership
// ======================

// BindCharacter records that playerID owns characterID. A character bound to
// another player is moved.
func (d *RedisDirectory) BindCharacter(ctx context.Context, playerID, characterID string) error {
	if playerID == "" || characterID == "" {
		return ErrEmptyID
	}

	prev, _, err := d.PlayerOf(ctx, characterID)
	if err != nil {
		return err
	}

	pipe := d.dao.TxPipe()
	if prev != "" && prev != playerID {
		pipe.SRem(ctx, d.keys.PlayerCharacters(prev), characterID)
	}
	pipe.Set(ctx, d.keys.CharacterPlayer(characterID), playerID, 0)
	pipe.SAdd(ctx, d.keys.PlayerCharacters(playerID), characterID)
	_, err = pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) PlayerOf(ctx context.Context, characterID string) (string, bool, error) {
	playerID, err := d.dao.Get(ctx, d.keys.CharacterPlayer(characterID))
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return playerID, true, nil
}

// Siblings returns the characters of the player owning characterID, sorted,
// characterID included. An unbound character is its own only sibling.
func (d *RedisDirectory) Siblings(ctx context.Context, characterID string) ([]string, error) {
	if characterID == "" {
		return nil, ErrEmptyID
	}

	playerID, found, err := d.PlayerOf(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if !found {
		return []string{characterID}, nil
	}

	ids, err := d.dao.SMembers(ctx, d.keys.PlayerCharacters(playerID))
	if err != nil {
		return nil, err
	}

	has := false
	for _, id := range ids {
		if id == characterID {
			has = true
			break
		}
	}
	if !has {
		ids = append(ids, characterID)
	}
	sort.Strings(ids)
	return ids, nil
}
