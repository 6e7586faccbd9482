package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/rentnest/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const selectProfileColumns = `
	SELECT p.id, p.role, p.saved_properties, p.preferred_language,
	       p.contact_name, p.contact_phone, COALESCE(u.email, ''),
	       p.created_at, p.updated_at
	FROM profiles p
	LEFT JOIN users u ON u.id = p.id`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var role, lang string
	err := row.Scan(
		&p.ID, &role, pq.Array(&p.SavedProperties), &lang,
		&p.ContactName, &p.ContactPhone, &p.Email,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	p.PreferredLanguage = model.Language(lang)
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, selectProfileColumns+` WHERE p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// ListAll は全プロフィールをメールアドレス付きで作成日時順に返す。
func (r *PostgresProfileRepo) ListAll(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfileColumns+` ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*model.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Update はプロフィールを部分更新し、更新後の行を返す。
// nilのフィールドは既存の値を維持する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	var role, lang *string
	if update.Role != nil {
		s := string(*update.Role)
		role = &s
	}
	if update.PreferredLanguage != nil {
		s := string(*update.PreferredLanguage)
		lang = &s
	}

	var savedID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE profiles SET
			role = COALESCE($2, role),
			saved_properties = CASE WHEN $3::boolean THEN $4::bigint[] ELSE saved_properties END,
			preferred_language = COALESCE($5, preferred_language),
			contact_name = COALESCE($6, contact_name),
			contact_phone = COALESCE($7, contact_phone),
			updated_at = now()
		 WHERE id = $1
		 RETURNING id`,
		id, role, update.SavedProperties != nil, pq.Array(update.SavedProperties), lang,
		update.ContactName, update.ContactPhone,
	).Scan(&savedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return r.FindByID(ctx, savedID)
}

// DeleteByID はプロフィール行のみを削除する。資格情報は残る。
func (r *PostgresProfileRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
