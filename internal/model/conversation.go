package model

import "time"

// UnknownParticipantName は相手のProfileが取得できない場合の表示名。
const UnknownParticipantName = "Unknown User"

// Conversation は2人の参加者間のスレッドを表す。
// 参加者は順序を持たないペアとして扱い、ペアごとに高々1件しか存在しない。
type Conversation struct {
	ID               int64
	ParticipantOneID string
	ParticipantTwoID string
	CreatedAt        time.Time

	// 以下は一覧取得時にJOINで付与される表示用の値。
	ParticipantOneName string
	ParticipantTwoName string
	LastMessageContent string
	LastMessageAt      *time.Time
}

// HasParticipant は指定ユーザーが参加者かどうかを返す。
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantOneID == userID || c.ParticipantTwoID == userID
}

// Other は指定ユーザーから見た相手のIDと表示名を返す。
// 表示名が空の場合はUnknownParticipantNameを返す。
func (c *Conversation) Other(userID string) (id, name string) {
	if c.ParticipantOneID == userID {
		id, name = c.ParticipantTwoID, c.ParticipantTwoName
	} else {
		id, name = c.ParticipantOneID, c.ParticipantOneName
	}
	if name == "" {
		name = UnknownParticipantName
	}
	return id, name
}

// Message は1つのConversationに属する不変のテキストイベント。
// 同一Conversation内ではCreatedAt（同値の場合はID）で全順序付けされる。
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// NewMessage はメッセージ挿入リクエストを表す。
type NewMessage struct {
	ConversationID int64
	SenderID       string
	Content        string
}

// MessageEvent はリアルタイムフィードから配信されるイベント。
// 現在はメッセージ挿入のみ。
type MessageEvent struct {
	Type    MessageEventType
	Message Message
}

// MessageEventType はリアルタイムイベントの種別。
type MessageEventType string

const (
	// MessageInserted はメッセージの挿入イベント。
	MessageInserted MessageEventType = "INSERT"
)
