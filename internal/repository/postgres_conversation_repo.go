package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/rentnest/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// 参加者の表示名と最新メッセージをJOINした会話の取得クエリ。
const selectConversationColumns = `
	SELECT c.id, c.participant_one_id, c.participant_two_id, c.created_at,
	       COALESCE(p1.contact_name, ''), COALESCE(p2.contact_name, ''),
	       COALESCE(lm.content, ''), lm.created_at
	FROM conversations c
	LEFT JOIN profiles p1 ON p1.id = c.participant_one_id
	LEFT JOIN profiles p2 ON p2.id = c.participant_two_id
	LEFT JOIN LATERAL (
		SELECT m.content, m.created_at
		FROM messages m
		WHERE m.conversation_id = c.id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	) lm ON true`

func scanConversation(row rowScanner) (*model.Conversation, error) {
	c := &model.Conversation{}
	var lastAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.ParticipantOneID, &c.ParticipantTwoID, &c.CreatedAt,
		&c.ParticipantOneName, &c.ParticipantTwoName,
		&c.LastMessageContent, &lastAt,
	)
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		t := lastAt.Time
		c.LastMessageAt = &t
	}
	return c, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id int64) (*model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx, selectConversationColumns+` WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return c, nil
}

// FindByParticipants は参加者ペア（順序不問）の会話を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByParticipants(ctx context.Context, a, b string) (*model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		selectConversationColumns+`
		WHERE (c.participant_one_id = $1 AND c.participant_two_id = $2)
		   OR (c.participant_one_id = $2 AND c.participant_two_id = $1)
		LIMIT 1`,
		a, b,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation by participants: %w", err)
	}
	return c, nil
}

// ListByParticipant は指定ユーザーが参加する会話を最終アクティビティの新しい順に返す。
func (r *PostgresConversationRepo) ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		selectConversationColumns+`
		WHERE c.participant_one_id = $1 OR c.participant_two_id = $1
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]*model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

// Create は会話を作成する。
// 順序不問のペアに対するユニークインデックスと衝突した場合は既存の会話を返す。
func (r *PostgresConversationRepo) Create(ctx context.Context, participantOne, participantTwo string) (*model.Conversation, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conversations (participant_one_id, participant_two_id)
		 VALUES ($1, $2)
		 ON CONFLICT ((LEAST(participant_one_id, participant_two_id)), (GREATEST(participant_one_id, participant_two_id)))
		 DO NOTHING
		 RETURNING id`,
		participantOne, participantTwo,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		// 同時作成に負けた場合
		existing, err := r.FindByParticipants(ctx, participantOne, participantTwo)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("conversation conflict but no existing row for %s/%s", participantOne, participantTwo)
		}
		return existing, false, nil
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	conv, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
