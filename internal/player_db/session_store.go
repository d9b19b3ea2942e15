package player_db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/presence"
)

const (
	fieldUser       = "user"
	fieldSemiUser   = "semi_user"
	fieldCharacter  = "character"
	fieldAuthorized = "authorized"
	fieldIP         = "ip"
	fieldUpdated    = "updated"

	activityLogSize = 100
)

// RedisStore keeps the Session records, online markers and activity log of
// one application.
type RedisStore struct {
	dao  *redis_tools.RedisDao
	keys redis_tools.AppKeys
	app  string
}

func NewRedisStore(dao *redis_tools.RedisDao, app string) *RedisStore {
	return &RedisStore{
		dao:  dao,
		keys: redis_tools.NewAppKeys(app),
		app:  app,
	}
}

// =======================
// Session
// =======================
func (s *RedisStore) GetSession(
	ctx context.Context,
	sessionID string,
) (presence.Session, bool, error) {

	if sessionID == "" {
		return presence.Session{}, false, nil
	}

	fields, err := s.dao.HGetAll(ctx, s.keys.Session(sessionID))
	if err != nil {
		return presence.Session{}, false, err
	}
	if len(fields) == 0 {
		return presence.Session{}, false, nil
	}

	sess := presence.Session{
		UUID:       sessionID,
		User:       fields[fieldUser],
		SemiUser:   fields[fieldSemiUser],
		Character:  fields[fieldCharacter] == "1",
		Authorized: fields[fieldAuthorized] == "1",
		IP:         fields[fieldIP],
	}
	if raw := fields[fieldUpdated]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return presence.Session{}, false, fmt.Errorf("parse session updated: %w", err)
		}
		sess.Updated = time.UnixMilli(ms)
	}
	return sess, true, nil
}

// PutSession replaces the whole record; unset fields are removed.
func (s *RedisStore) PutSession(
	ctx context.Context,
	sess presence.Session,
) error {

	if sess.UUID == "" {
		return presence.ErrEmptySession
	}

	values := []interface{}{fieldUpdated, sess.Updated.UnixMilli()}
	if sess.User != "" {
		values = append(values, fieldUser, sess.User)
	}
	if sess.SemiUser != "" {
		values = append(values, fieldSemiUser, sess.SemiUser)
	}
	if sess.Character {
		values = append(values, fieldCharacter, "1")
	}
	if sess.Authorized {
		values = append(values, fieldAuthorized, "1")
	}
	if sess.IP != "" {
		values = append(values, fieldIP, sess.IP)
	}

	key := s.keys.Session(sess.UUID)
	pipe := s.dao.TxPipe()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	_, err := pipe.Exec(ctx)
	return err
}

// EnsureSession creates an anonymous Session when none exists yet and reports
// whether it did.
func (s *RedisStore) EnsureSession(
	ctx context.Context,
	sessionID, ip string,
	now time.Time,
) (bool, error) {

	if sessionID == "" {
		return false, presence.ErrEmptySession
	}

	key := s.keys.Session(sessionID)
	created, err := s.dao.HSetNX(ctx, key, fieldUpdated, now.UnixMilli())
	if err != nil || !created || ip == "" {
		return created, err
	}
	_, err = s.dao.HSetNX(ctx, key, fieldIP, ip)
	return true, err
}
