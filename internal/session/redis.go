// ABOUTME: Redis implementation of the session Store on go-redis.
// ABOUTME: One JSON document per session, a sorted-set expiry index and per-user id sets.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/cappelaere/wai/internal/model"
)

// DefaultRedisPrefix namespaces every key the store writes.
const DefaultRedisPrefix = "wai:"

// maxTxRetries bounds optimistic-lock retries when concurrent writers collide.
const maxTxRetries = 32

// Redis stores sessions in Redis.
type Redis struct {
	client backend.UniversalClient
	prefix string
	opts   Options
	logger *slog.Logger
}

// NewRedis wraps an existing client. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client backend.UniversalClient, prefix string, opts Options) *Redis {
	opts = opts.withDefaults()
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		opts:   opts,
		logger: opts.Logger.With("component", "session", "store", "redis"),
	}
}

// NewRedisFromURL connects using a redis:// URL.
func NewRedisFromURL(ctx context.Context, url, prefix string, opts Options) (*Redis, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := backend.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, prefix, opts), nil
}

// Client exposes the underlying connection so a RedisLocker can share it.
func (r *Redis) Client() backend.UniversalClient { return r.client }

func (r *Redis) key(id string) string         { return r.prefix + "session:" + id }
func (r *Redis) indexKey() string             { return r.prefix + "sessions" }
func (r *Redis) userKey(userID string) string { return r.prefix + "user:" + userID + ":sessions" }

func (r *Redis) score(s *Session) float64 {
	return float64(s.ExpiresAt(r.opts.Timeout).UnixMilli())
}

func (r *Redis) nowScore() string {
	return strconv.FormatInt(r.opts.Now().UnixMilli(), 10)
}

func (r *Redis) write(ctx context.Context, pipe backend.Pipeliner, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	pipe.Set(ctx, r.key(s.ID), data, r.opts.Timeout)
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: r.score(s), Member: s.ID})
	pipe.SAdd(ctx, r.userKey(s.UserID), s.ID)
	return nil
}

func (r *Redis) Create(ctx context.Context, userID string) (*Session, error) {
	now := r.opts.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Context:      newContext(),
		History:      []model.Turn{},
		CreatedAt:    now,
		LastAccessed: now,
	}
	_, err := r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		return r.write(ctx, pipe, s)
	})
	if err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	r.logger.Info("session created", "session_id", s.ID, "user_id", userID)
	return s, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.History == nil {
		s.History = []model.Turn{}
	}
	return &s, nil
}

// missing resolves a session key that is gone: an index entry means the key
// timed out in Redis, otherwise the id never existed.
func (r *Redis) missing(ctx context.Context, id string) error {
	removed, err := r.client.ZRem(ctx, r.indexKey(), id).Result()
	if err != nil {
		return fmt.Errorf("checking expiry index: %w", err)
	}
	if removed > 0 {
		return ErrExpired
	}
	return ErrNotFound
}

func (r *Redis) remove(ctx context.Context, pipe backend.Pipeliner, s *Session) {
	pipe.Del(ctx, r.key(s.ID))
	pipe.ZRem(ctx, r.indexKey(), s.ID)
	pipe.SRem(ctx, r.userKey(s.UserID), s.ID)
}

// update runs fn against the live session under WATCH and writes the result
// back with a refreshed last_accessed. fn may be nil to only touch the session.
func (r *Redis) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := r.key(id)
	var out *Session

	txf := func(tx *backend.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, backend.Nil) {
			return r.missing(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		s, err := decodeSession(raw)
		if err != nil {
			return err
		}

		now := r.opts.Now()
		if s.Expired(now, r.opts.Timeout) {
			if _, err := tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
				r.remove(ctx, pipe, s)
				return nil
			}); err != nil {
				return err
			}
			r.logger.Info("session expired", "session_id", id)
			return ErrExpired
		}

		if fn != nil {
			if err := fn(s); err != nil {
				return err
			}
		}
		s.LastAccessed = now
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			return r.write(ctx, pipe, s)
		})
		if err != nil {
			return err
		}
		out = s
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("updating session %s: too much contention", id)
}

func (r *Redis) Load(ctx context.Context, id string) (*Session, error) {
	return r.update(ctx, id, nil)
}

func (r *Redis) AppendTurns(ctx context.Context, id string, turns ...model.Turn) error {
	_, err := r.update(ctx, id, func(s *Session) error {
		s.History = trimHistory(append(s.History, turns...), r.opts.MaxHistory)
		return nil
	})
	return err
}

func (r *Redis) GetContext(ctx context.Context, id, key string) (any, bool, error) {
	s, err := r.update(ctx, id, nil)
	if err != nil {
		return nil, false, err
	}
	v, ok := s.Context[key]
	return v, ok, nil
}

func (r *Redis) SetContext(ctx context.Context, id, key string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	_, err = r.update(ctx, id, func(s *Session) error {
		if s.Context == nil {
			s.Context = make(map[string]any)
		}
		s.Context[key] = v
		return nil
	})
	return err
}

func (r *Redis) UpdateContext(ctx context.Context, id string, data map[string]any, merge bool) error {
	norm, err := normalizeMap(data)
	if err != nil {
		return err
	}
	_, err = r.update(ctx, id, func(s *Session) error {
		s.Context = applyUpdate(s.Context, norm, merge)
		return nil
	})
	return err
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		if r.client.ZRem(ctx, r.indexKey(), id).Val() > 0 {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		return err
	}
	if _, err := r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		r.remove(ctx, pipe, s)
		return nil
	}); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	r.logger.Info("session deleted", "session_id", id)
	return nil
}

func (r *Redis) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: "(" + r.nowScore(),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scanning expiry index: %w", err)
	}

	removed := 0
	for _, id := range ids {
		ok, err := r.removeIfExpired(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// removeIfExpired re-reads the session under WATCH and deletes it only if it
// is still expired. A session touched since the index scan keeps living and
// its index score is rewritten.
func (r *Redis) removeIfExpired(ctx context.Context, id string) (bool, error) {
	key := r.key(id)
	var removed bool

	txf := func(tx *backend.Tx) error {
		removed = false
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("reading session: %w", err)
		}

		var s *Session
		if err == nil {
			if s, err = decodeSession(raw); err != nil {
				r.logger.Warn("dropping undecodable session", "session_id", id, "error", err)
				s = nil
			}
		}
		if s != nil && !s.Expired(r.opts.Now(), r.opts.Timeout) {
			_, err := tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
				pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: r.score(s), Member: id})
				return nil
			})
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			if s != nil {
				r.remove(ctx, pipe, s)
				return nil
			}
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, r.indexKey(), id)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("removing session: %w", err)
		}
		return removed, nil
	}
	return false, fmt.Errorf("removing session %s: too much contention", id)
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCount(ctx, r.indexKey(), r.nowScore(), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return int(n), nil
}

func (r *Redis) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	now := r.opts.Now()
	var out []*Session
	for _, id := range ids {
		raw, err := r.client.Get(ctx, r.key(id)).Bytes()
		if errors.Is(err, backend.Nil) {
			r.client.SRem(ctx, r.userKey(userID), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading session: %w", err)
		}
		s, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		if !s.Expired(now, r.opts.Timeout) {
			out = append(out, s)
		}
	}
	sortByCreated(out)
	return out, nil
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
