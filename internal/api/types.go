// Package api はHTTP/WebSocket境界で送受信するJSON表現を定義する。
// サーバー側ハンドラーとクライアントSDKの双方がこのパッケージを共有する。
package api

import (
	"time"

	"github.com/hitoshi/rentnest/internal/model"
)

// ErrorResponse は統一エラーレスポンスのJSON構造。
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ToModel はErrorResponseをAPIErrorに変換する。
func (e ErrorResponse) ToModel() *model.APIError {
	return &model.APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: e.Category,
		Action:   e.Action,
	}
}

// ErrorFromModel はAPIErrorをErrorResponseに変換する。
func ErrorFromModel(e *model.APIError) ErrorResponse {
	return ErrorResponse{
		Code:     e.Code,
		Message:  e.Message,
		Category: e.Category,
		Action:   e.Action,
	}
}

// SignupRequest はサインアップのリクエストボディ。
type SignupRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	Role              string `json:"role,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	ContactName       string `json:"contact_name,omitempty"`
	ContactPhone      string `json:"contact_phone,omitempty"`
}

// ToModel はSignupRequestをドメインモデルに変換する。
func (r SignupRequest) ToModel() model.SignupRequest {
	return model.SignupRequest{
		Email:             r.Email,
		Password:          r.Password,
		Role:              model.Role(r.Role),
		PreferredLanguage: model.Language(r.PreferredLanguage),
		ContactName:       r.ContactName,
		ContactPhone:      r.ContactPhone,
	}
}

// LoginRequest はパスワードログインのリクエストボディ。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse はログイン・サインアップ成功時のレスポンス。
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// UserResponse は認証主体のJSON表現。
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserFromModel はIdentityをUserResponseに変換する。
func UserFromModel(i *model.Identity) UserResponse {
	return UserResponse{ID: i.ID, Email: i.Email}
}

// ToModel はUserResponseをIdentityに変換する。Profileは含まない。
func (u UserResponse) ToModel() *model.Identity {
	return &model.Identity{ID: u.ID, Email: u.Email}
}

// ProfileResponse はProfileのJSON表現。
type ProfileResponse struct {
	ID                string    `json:"id"`
	Role              string    `json:"role"`
	SavedProperties   []int64   `json:"saved_properties"`
	PreferredLanguage string    `json:"preferred_language"`
	ContactName       string    `json:"contact_name"`
	ContactPhone      string    `json:"contact_phone"`
	Email             string    `json:"email,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProfileFromModel はProfileをProfileResponseに変換する。
func ProfileFromModel(p *model.Profile) ProfileResponse {
	saved := p.SavedProperties
	if saved == nil {
		saved = []int64{}
	}
	return ProfileResponse{
		ID:                p.ID,
		Role:              string(p.Role),
		SavedProperties:   saved,
		PreferredLanguage: string(p.PreferredLanguage),
		ContactName:       p.ContactName,
		ContactPhone:      p.ContactPhone,
		Email:             p.Email,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// ToModel はProfileResponseをProfileに変換する。
func (p ProfileResponse) ToModel() *model.Profile {
	return &model.Profile{
		ID:                p.ID,
		Role:              model.Role(p.Role),
		SavedProperties:   append([]int64{}, p.SavedProperties...),
		PreferredLanguage: model.Language(p.PreferredLanguage),
		ContactName:       p.ContactName,
		ContactPhone:      p.ContactPhone,
		Email:             p.Email,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// ProfileUpdateRequest はProfileの部分更新リクエスト。
// 省略したフィールドは変更しない。saved_propertiesに空配列を渡すと全削除になる。
type ProfileUpdateRequest struct {
	Role              *string  `json:"role,omitempty"`
	SavedProperties   *[]int64 `json:"saved_properties,omitempty"`
	PreferredLanguage *string  `json:"preferred_language,omitempty"`
	ContactName       *string  `json:"contact_name,omitempty"`
	ContactPhone      *string  `json:"contact_phone,omitempty"`
}

// ToModel はProfileUpdateRequestをドメインモデルに変換する。
func (r ProfileUpdateRequest) ToModel() model.ProfileUpdate {
	var u model.ProfileUpdate
	if r.Role != nil {
		role := model.Role(*r.Role)
		u.Role = &role
	}
	if r.SavedProperties != nil {
		u.SavedProperties = append([]int64{}, (*r.SavedProperties)...)
	}
	if r.PreferredLanguage != nil {
		lang := model.Language(*r.PreferredLanguage)
		u.PreferredLanguage = &lang
	}
	u.ContactName = r.ContactName
	u.ContactPhone = r.ContactPhone
	return u
}

// ProfileUpdateFromModel はドメインの部分更新をリクエストに変換する。
func ProfileUpdateFromModel(u model.ProfileUpdate) ProfileUpdateRequest {
	var r ProfileUpdateRequest
	if u.Role != nil {
		role := string(*u.Role)
		r.Role = &role
	}
	if u.SavedProperties != nil {
		saved := append([]int64{}, u.SavedProperties...)
		r.SavedProperties = &saved
	}
	if u.PreferredLanguage != nil {
		lang := string(*u.PreferredLanguage)
		r.PreferredLanguage = &lang
	}
	r.ContactName = u.ContactName
	r.ContactPhone = u.ContactPhone
	return r
}

// ConversationResponse はConversationのJSON表現。
type ConversationResponse struct {
	ID                 int64      `json:"id"`
	ParticipantOneID   string     `json:"participant_one_id"`
	ParticipantTwoID   string     `json:"participant_two_id"`
	ParticipantOneName string     `json:"participant_one_name,omitempty"`
	ParticipantTwoName string     `json:"participant_two_name,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastMessageContent string     `json:"last_message_content,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
}

// ConversationFromModel はConversationをConversationResponseに変換する。
func ConversationFromModel(c *model.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:                 c.ID,
		ParticipantOneID:   c.ParticipantOneID,
		ParticipantTwoID:   c.ParticipantTwoID,
		ParticipantOneName: c.ParticipantOneName,
		ParticipantTwoName: c.ParticipantTwoName,
		CreatedAt:          c.CreatedAt,
		LastMessageContent: c.LastMessageContent,
		LastMessageAt:      c.LastMessageAt,
	}
}

// ToModel はConversationResponseをConversationに変換する。
func (c ConversationResponse) ToModel() *model.Conversation {
	return &model.Conversation{
		ID:                 c.ID,
		ParticipantOneID:   c.ParticipantOneID,
		ParticipantTwoID:   c.ParticipantTwoID,
		ParticipantOneName: c.ParticipantOneName,
		ParticipantTwoName: c.ParticipantTwoName,
		CreatedAt:          c.CreatedAt,
		LastMessageContent: c.LastMessageContent,
		LastMessageAt:      c.LastMessageAt,
	}
}

// CreateConversationRequest は会話作成リクエスト。
type CreateConversationRequest struct {
	ParticipantOneID string `json:"participant_one_id"`
	ParticipantTwoID string `json:"participant_two_id"`
}

// MessageResponse はMessageのJSON表現。
type MessageResponse struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageFromModel はMessageをMessageResponseに変換する。
func MessageFromModel(m *model.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// ToModel はMessageResponseをMessageに変換する。
func (m MessageResponse) ToModel() model.Message {
	return model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// SendMessageRequest はメッセージ送信リクエスト。
type SendMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
}

// DeleteUserRequest は特権ユーザー削除のリクエスト。
type DeleteUserRequest struct {
	UserID string `json:"user_id"`
}

// RealtimeEvent はリアルタイムフィードで配信されるイベント。
type RealtimeEvent struct {
	Type   string          `json:"type"`
	Record MessageResponse `json:"record"`
}

// ToModel はRealtimeEventをMessageEventに変換する。
func (e RealtimeEvent) ToModel() model.MessageEvent {
	return model.MessageEvent{
		Type:    model.MessageEventType(e.Type),
		Message: e.Record.ToModel(),
	}
}

// HealthResponse はヘルスチェックのレスポンス。
type HealthResponse struct {
	Status string `json:"status"`
}
