package player_db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Akido22/mmogamelab/internal/presence"
)

// =======================
// Session activity log
// =======================

// Record prepends entry to the session's log, keeping the newest entries only.
func (s *RedisStore) Record(ctx context.Context, entry presence.Activity) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}

	key := s.keys.SessionLog(entry.Session)
	pipe := s.dao.TxPipe()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, activityLogSize-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Activities returns up to limit entries, newest first.
func (s *RedisStore) Activities(ctx context.Context, sessionID string, limit int64) ([]presence.Activity, error) {
	if limit <= 0 || limit > activityLogSize {
		limit = activityLogSize
	}
	raw, err := s.dao.LRange(ctx, s.keys.SessionLog(sessionID), 0, limit-1)
	if err != nil {
		return nil, err
	}

	out := make([]presence.Activity, 0, len(raw))
	for _, item := range raw {
		var entry presence.Activity
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
