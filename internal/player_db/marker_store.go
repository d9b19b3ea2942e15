package player_db

import (
	"context"
	"sort"
)

// =======================
// Character online markers
// =======================
func (s *RedisStore) AddOnline(ctx context.Context, characterID string) (bool, error) {
	n, err := s.dao.SAdd(ctx, s.keys.CharactersOnline(), characterID)
	return n == 1, err
}

func (s *RedisStore) RemoveOnline(ctx context.Context, characterID string) (bool, error) {
	n, err := s.dao.SRem(ctx, s.keys.CharactersOnline(), characterID)
	return n == 1, err
}

func (s *RedisStore) Online(ctx context.Context) ([]string, error) {
	ids, err := s.dao.SMembers(ctx, s.keys.CharactersOnline())
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
