package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "research:session:"
	redisIndexKey      = "research:sessions"
)

// RedisStore is an optional registry backend that survives process
// restarts. Same contract as MemoryStore; atomicity of each operation is
// provided by Redis itself. Cross-operation races (two instances updating
// one session) are not guarded, so this is still single-writer by intent.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Create(ctx context.Context, question, threadID, runID string) (*Session, error) {
	sess := &Session{
		ThreadID:  threadID,
		RunID:     runID,
		Question:  question,
		Status:    SessionRunning,
		StartedAt: time.Now(),
	}
	for {
		sess.ID = uuid.NewString()[:8]
		b, err := json.Marshal(sess)
		if err != nil {
			return nil, err
		}
		ok, err := r.rdb.SetNX(ctx, redisSessionPrefix+sess.ID, b, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if ok {
			break
		}
	}
	if err := r.rdb.RPush(ctx, redisIndexKey, sess.ID).Err(); err != nil {
		// Don't leave an unindexed record behind; List would never see it.
		r.rdb.Del(ctx, redisSessionPrefix+sess.ID)
		return nil, fmt.Errorf("index session: %w", err)
	}
	return sess, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	b, err := r.rdb.Get(ctx, redisSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (r *RedisStore) MostRecent(ctx context.Context) (*Session, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var latest *Session
	for _, sess := range all {
		if latest == nil || sess.StartedAt.After(latest.StartedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNoSessions
	}
	return latest, nil
}

func (r *RedisStore) Update(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// XX: only replace an existing record, never resurrect a removed one
	ok, err := r.rdb.SetXX(ctx, redisSessionPrefix+sess.ID, b, 0).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrSessionNotFound)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, redisSessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if err := r.rdb.LRem(ctx, redisIndexKey, 0, id).Err(); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := r.rdb.LRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
