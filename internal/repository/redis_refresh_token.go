package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wattmate/internal/common"
	"wattmate/internal/logger"
	"wattmate/internal/models"
)

const (
	redisTokenPrefix = "wattmate:rt:"
	redisUserPrefix  = "wattmate:rt:user:"
)

// RedisRefreshTokenRepository keeps the ledger in Redis.
// Each record is a key with a TTL matching its expiry; a per-user set indexes the user's tokens.
// Set members can outlive the keys they point to, DeleteExpired prunes them.
type RedisRefreshTokenRepository struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisRefreshTokenRepository(rdb *redis.Client) *RedisRefreshTokenRepository {
	return &RedisRefreshTokenRepository{rdb: rdb, now: time.Now}
}

var _ RefreshTokenRepo = (*RedisRefreshTokenRepository)(nil)

type redisRecord struct {
	UserID    int64     `json:"uid"`
	ExpiresAt time.Time `json:"exp"`
	CreatedAt time.Time `json:"iat"`
}

func tokenKey(token string) string { return redisTokenPrefix + token }

func userKey(userID int64) string { return redisUserPrefix + strconv.FormatInt(userID, 10) }

func (r *RedisRefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	now := r.now()
	ttl := t.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// already dead, FindActive would never return it
		return nil
	}
	t.CreatedAt = now.UTC()
	payload, err := json.Marshal(redisRecord{UserID: t.UserID, ExpiresAt: t.ExpiresAt.UTC(), CreatedAt: t.CreatedAt})
	if err != nil {
		return fmt.Errorf("encode refresh token: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, tokenKey(t.Token), payload, ttl).Result()
	if err != nil {
		logger.Log.Error("Save refresh token failed (redis)", zap.Int64("user_id", t.UserID), zap.Error(err))
		return fmt.Errorf("save refresh token: %w", err)
	}
	if !ok {
		return common.ErrAlreadyExists
	}
	if err := r.rdb.SAdd(ctx, userKey(t.UserID), t.Token).Err(); err != nil {
		r.rdb.Del(ctx, tokenKey(t.Token))
		return fmt.Errorf("index refresh token: %w", err)
	}
	return nil
}

func (r *RedisRefreshTokenRepository) get(ctx context.Context, token string) (*models.RefreshToken, error) {
	raw, err := r.rdb.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return &models.RefreshToken{UserID: rec.UserID, Token: token, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt}, nil
}

func (r *RedisRefreshTokenRepository) FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	t, err := r.get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !t.ExpiresAt.After(now) {
		return nil, common.ErrNotFound
	}
	return t, nil
}

func (r *RedisRefreshTokenRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	t, err := r.get(ctx, token)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, tokenKey(token))
		pipe.SRem(ctx, userKey(t.UserID), token)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	// of two concurrent callers only one sees DEL remove the key
	return del.Val() > 0, nil
}

func (r *RedisRefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tokens, err := r.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user refresh tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	keys := make([]string, len(tokens))
	for i, tok := range tokens {
		keys[i] = tokenKey(tok)
	}
	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey(userID), toAny(tokens)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return del.Val(), nil
}

// DeleteExpired removes records past their expiry and prunes index entries whose key
// Redis has already evicted. Both count as swept records.
func (r *RedisRefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := r.rdb.Scan(ctx, 0, redisUserPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		set := iter.Val()
		tokens, err := r.rdb.SMembers(ctx, set).Result()
		if err != nil {
			return removed, fmt.Errorf("list refresh tokens: %w", err)
		}
		for _, tok := range tokens {
			t, err := r.get(ctx, tok)
			switch {
			case errors.Is(err, common.ErrNotFound):
				if err := r.rdb.SRem(ctx, set, tok).Err(); err != nil {
					return removed, fmt.Errorf("prune refresh token index: %w", err)
				}
				removed++
			case err != nil:
				return removed, err
			case !t.ExpiresAt.After(now):
				ok, err := r.DeleteByToken(ctx, tok)
				if err != nil {
					return removed, err
				}
				if ok {
					removed++
				}
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan refresh token index: %w", err)
	}
	return removed, nil
}

func (r *RedisRefreshTokenRepository) CountActiveByUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	tokens, err := r.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user refresh tokens: %w", err)
	}
	var n int64
	for _, tok := range tokens {
		if _, err := r.FindActive(ctx, tok, now); err == nil {
			n++
		} else if !errors.Is(err, common.ErrNotFound) {
			return 0, err
		}
	}
	return n, nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
