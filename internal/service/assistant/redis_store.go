package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modalhub/internal/models"
	"modalhub/internal/redis"
)

const redisSessionPrefix = "modalhub:session:"

// RedisStore keeps each session as one JSON document whose TTL is refreshed on write.
type RedisStore struct {
	client    *redis.Client
	retention Retention
	now       func() time.Time
}

// NewRedisStore builds a session store over an existing client.
func NewRedisStore(client *redis.Client, retention Retention) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func sessionKey(id string) string {
	return redisSessionPrefix + id
}

func (r *RedisStore) GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error) {
	if id != "" {
		se, err := r.update(ctx, id, func(se *models.Session, now time.Time) {
			se.LastActive = now
		})
		if err == nil {
			return se, false, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, false, err
		}
	}
	for i := 0; i < 3; i++ {
		se := newSession(r.now())
		data, err := json.Marshal(se)
		if err != nil {
			return nil, false, fmt.Errorf("encode session: %w", err)
		}
		ok, err := r.client.SetNX(ctx, sessionKey(se.ID), data, r.retention.TTL)
		if err != nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		if ok {
			return se, true, nil
		}
	}
	return nil, false, errors.New("create session: id collision")
}

func (r *RedisStore) Append(ctx context.Context, id string, turns ...models.Message) (*models.Session, error) {
	return r.update(ctx, id, func(se *models.Session, now time.Time) {
		appendTurns(se, r.retention.MaxHistory, now, turns...)
	})
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	raw, err := r.client.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var se models.Session
	if err := json.Unmarshal([]byte(raw), &se); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &se, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrSessionNotFound
	}
	n, err := r.client.Del(ctx, sessionKey(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStore) update(ctx context.Context, id string, mutate func(*models.Session, time.Time)) (*models.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	var out models.Session
	err := r.client.Update(ctx, sessionKey(id), r.retention.TTL, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrSessionNotFound
		}
		var se models.Session
		if err := json.Unmarshal(current, &se); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		mutate(&se, r.now())
		out = se
		return json.Marshal(&se)
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return &out, nil
}
