package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisDirectory はセッションを Redis に TTL 付きで保存します。
type RedisDirectory struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ Directory = (*RedisDirectory)(nil)

// NewRedisDirectory は RedisDirectory を作成します。
func NewRedisDirectory(rdb *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	return &RedisDirectory{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Put はセッションを保存します。
func (d *RedisDirectory) Put(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	now := d.now().UTC()
	if rec.LoginTime.IsZero() {
		rec.LoginTime = now
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = now
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return d.rdb.Set(ctx, sessionKey(rec.SessionID), payload, d.ttl).Err()
}

// Touch は最終アクセス時刻を更新し、TTL を張り直します。
func (d *RedisDirectory) Touch(ctx context.Context, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	key := sessionKey(sessionID)
	var rec Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.LastActivity = d.now().UTC()
		payload, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, d.ttl)
			return nil
		})
		return err
	}

	for {
		err := d.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

// Delete はセッションを削除します。
func (d *RedisDirectory) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return d.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
