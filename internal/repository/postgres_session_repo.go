package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/rentnest/internal/model"
)

// PostgresSessionRepo はアクセストークンのsidクレームに対応する
// 失効可能なセッション行をPostgreSQLで管理する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッション行を作成する。CreatedAtはDBの時刻で上書きされる。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		session.ID, session.UserID, session.ExpiresAt,
	).Scan(&session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションを取得する。
// 期限切れ、存在しない、またはIDがUUIDとして不正な場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if !validSessionID(id) {
		return nil, nil
	}

	var session model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", id, err)
	}
	return &session, nil
}

// DeleteByID はセッションを失効させる。存在しない場合も成功とする。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if !validSessionID(id) {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to revoke session %s: %w", id, err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを失効させる。
// 管理者によるユーザー削除の前に呼ばれ、発行済みトークンを即座に無効にする。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if !validSessionID(userID) {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions of user %s: %w", userID, err)
	}
	return nil
}

// validSessionID はUUID列に渡せる値かを判定する。
// トークン由来の値をそのまま渡すとPostgreSQLがキャストエラーを返すため事前に弾く。
func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
