package player_db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/presence"
)

const appSessionScanBatch = 500

// AppSessionStore keeps the AppSession records of every application in one
// keyspace, so a sweep or a sibling lookup sees all of them at once.
type AppSessionStore struct {
	dao    *redis_tools.RedisDao
	logger *zap.Logger
}

type AppSessionOption func(*AppSessionStore)

func WithLogger(logger *zap.Logger) AppSessionOption {
	return func(s *AppSessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewAppSessionStore(dao *redis_tools.RedisDao, opts ...AppSessionOption) *AppSessionStore {
	s := &AppSessionStore{
		dao:    dao,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AppSessionStore) Get(ctx context.Context, key string) (presence.AppSession, bool, error) {
	raw, err := s.dao.Get(ctx, redis_tools.KeyAppSession(key))
	if errors.Is(err, redis.Nil) {
		return presence.AppSession{}, false, nil
	}
	if err != nil {
		return presence.AppSession{}, false, err
	}
	as, err := decodeAppSession(raw)
	if err != nil {
		return presence.AppSession{}, false, err
	}
	return as, true, nil
}

// Put writes the record and moves it between the character and timeout indexes.
func (s *AppSessionStore) Put(ctx context.Context, as presence.AppSession) error {
	if as.Session == "" {
		return presence.ErrEmptySession
	}
	if as.State == presence.StateAbsent {
		return s.Delete(ctx, as.Key())
	}

	prev, found, err := s.Get(ctx, as.Key())
	if err != nil {
		return err
	}

	data, err := json.Marshal(as)
	if err != nil {
		return fmt.Errorf("encode appsession: %w", err)
	}

	key := as.Key()
	pipe := s.dao.TxPipe()
	pipe.Set(ctx, redis_tools.KeyAppSession(key), data, 0)
	pipe.ZAdd(ctx, redis_tools.KeyAppSessionTimeoutIndex, redis.Z{
		Score:  float64(as.Timeout.UnixMilli()),
		Member: key,
	})
	if found && prev.Character != "" && prev.Character != as.Character {
		pipe.SRem(ctx, redis_tools.KeyAppSessionCharacterIndex(prev.Character), key)
	}
	if as.Character != "" {
		pipe.SAdd(ctx, redis_tools.KeyAppSessionCharacterIndex(as.Character), key)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) Delete(ctx context.Context, key string) error {
	prev, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.dao.TxPipe()
	pipe.Del(ctx, redis_tools.KeyAppSession(key))
	pipe.ZRem(ctx, redis_tools.KeyAppSessionTimeoutIndex, key)
	if found && prev.Character != "" {
		pipe.SRem(ctx, redis_tools.KeyAppSessionCharacterIndex(prev.Character), key)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) ExpiredBefore(ctx context.Context, t time.Time) ([]presence.AppSession, error) {
	keys, err := s.dao.ZRangeByScore(ctx, redis_tools.KeyAppSessionTimeoutIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(t.UnixMilli(), 10),
	})
	if err != nil {
		return nil, err
	}

	out, stale, corrupt, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	// 无法解码的记录也移出超时索引，避免每轮清扫都撞上它
	stale = append(stale, corrupt...)
	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, k := range stale {
			members[i] = k
		}
		if _, err := s.dao.ZRem(ctx, redis_tools.KeyAppSessionTimeoutIndex, members...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ByCharacters returns records currently bound to any of characterIDs.
func (s *AppSessionStore) ByCharacters(ctx context.Context, characterIDs []string) ([]presence.AppSession, error) {
	if len(characterIDs) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(characterIDs))
	indexKeys := make([]string, 0, len(characterIDs))
	for _, id := range characterIDs {
		wanted[id] = struct{}{}
		indexKeys = append(indexKeys, redis_tools.KeyAppSessionCharacterIndex(id))
	}

	keys, err := s.dao.SUnion(ctx, indexKeys...)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	loaded, _, corrupt, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		members := make([]interface{}, len(corrupt))
		for i, k := range corrupt {
			members[i] = k
		}
		pipe := s.dao.TxPipe()
		for _, indexKey := range indexKeys {
			pipe.SRem(ctx, indexKey, members...)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("unindex corrupt app sessions failed", zap.Strings("keys", corrupt), zap.Error(err))
		}
	}

	// 索引可能滞后于记录本身，以记录为准
	out := loaded[:0]
	for _, as := range loaded {
		if _, ok := wanted[as.Character]; ok {
			out = append(out, as)
		}
	}
	return out, nil
}

// List returns every record ordered by timeout.
func (s *AppSessionStore) List(ctx context.Context) ([]presence.AppSession, error) {
	keys, err := s.dao.ZRangeByScore(ctx, redis_tools.KeyAppSessionTimeoutIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	})
	if err != nil {
		return nil, err
	}
	out, _, _, err := s.load(ctx, keys)
	return out, err
}

// load fetches records in batches, keeping the order of keys. Keys without a
// record are returned as stale, keys whose record does not decode as corrupt;
// neither stops the others from loading.
func (s *AppSessionStore) load(ctx context.Context, keys []string) (out []presence.AppSession, stale, corrupt []string, err error) {
	out = make([]presence.AppSession, 0, len(keys))

	for start := 0; start < len(keys); start += appSessionScanBatch {
		end := start + appSessionScanBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		redisKeys := make([]string, len(batch))
		for i, k := range batch {
			redisKeys[i] = redis_tools.KeyAppSession(k)
		}
		values, err := s.dao.MGet(ctx, redisKeys...)
		if err != nil {
			return nil, nil, nil, err
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				stale = append(stale, batch[i])
				continue
			}
			as, err := decodeAppSession(raw)
			if err != nil {
				s.logger.Warn("skip undecodable app session",
					zap.String("app_session", batch[i]),
					zap.Error(err),
				)
				corrupt = append(corrupt, batch[i])
				continue
			}
			out = append(out, as)
		}
	}
	return out, stale, corrupt, nil
}

func decodeAppSession(raw string) (presence.AppSession, error) {
	var as presence.AppSession
	if err := json.Unmarshal([]byte(raw), &as); err != nil {
		return presence.AppSession{}, fmt.Errorf("decode appsession: %w", err)
	}
	return as, nil
}
