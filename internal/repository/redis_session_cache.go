package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/rentnest/internal/model"
)

const (
	sessionKeyPrefix     = "rentnest:session:"
	userSessionKeyPrefix = "rentnest:user_sessions:"
)

// CachedSessionRepo はSessionRepositoryの前段にRedisキャッシュを置く実装。
// 読み取りはキャッシュを優先し、削除時はキャッシュも無効化する。
// Redisの障害時は下位リポジトリへフォールバックする。
type CachedSessionRepo struct {
	next   SessionRepository
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewCachedSessionRepo はCachedSessionRepoを生成する。
func NewCachedSessionRepo(next SessionRepository, client *redis.Client, ttl time.Duration) *CachedSessionRepo {
	return &CachedSessionRepo{next: next, client: client, ttl: ttl, now: time.Now}
}

// Create はセッションを作成する。キャッシュへの書き込みは初回読み取り時に行う。
func (r *CachedSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return r.next.Create(ctx, session)
}

// FindByID はキャッシュからセッションを取得し、なければ下位リポジトリから取得して格納する。
func (r *CachedSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	switch {
	case err == nil:
		var session model.Session
		if jsonErr := json.Unmarshal(raw, &session); jsonErr == nil {
			if session.ExpiresAt.After(r.now()) {
				return &session, nil
			}
			return nil, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("セッションキャッシュの読み取りに失敗",
			slog.String("error", err.Error()),
		)
	}

	session, err := r.next.FindByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	r.store(ctx, session)
	return session, nil
}

// DeleteByID はセッションを削除し、キャッシュを無効化する。
func (r *CachedSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	if err := r.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除し、キャッシュを無効化する。
func (r *CachedSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if err := r.next.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	indexKey := userSessionKeyPrefix + userID
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached sessions: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, indexKey)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached sessions: %w", err)
	}
	return nil
}

// store はセッションをキャッシュに格納する。TTLはセッションの残り有効期間を超えない。
func (r *CachedSessionRepo) store(ctx context.Context, session *model.Session) {
	ttl := r.ttl
	if remaining := session.ExpiresAt.Sub(r.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return
	}

	indexKey := userSessionKeyPrefix + session.UserID
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, raw, ttl)
	pipe.SAdd(ctx, indexKey, session.ID)
	pipe.Expire(ctx, indexKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("セッションキャッシュの書き込みに失敗",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ SessionRepository = (*CachedSessionRepo)(nil)
