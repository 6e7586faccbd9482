// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの役割を表す。機能の表示可否を決定する。
type Role string

const (
	// RoleRenter は物件を探す借り手。
	RoleRenter Role = "renter"
	// RoleLandlord は物件を掲載する貸し手。
	RoleLandlord Role = "landlord"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid は定義済みのRoleかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleRenter, RoleLandlord, RoleAdmin:
		return true
	}
	return false
}

// Language は表示言語を表す。
type Language string

const (
	// LanguageEnglish は英語。
	LanguageEnglish Language = "en"
	// LanguageSpanish はスペイン語。
	LanguageSpanish Language = "es"
)

// Valid は定義済みのLanguageかどうかを返す。
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageSpanish
}

// DefaultContactPhone はサインアップ時に設定される連絡先電話番号の仮の値。
const DefaultContactPhone = "Not provided"

// Identity は認証プロバイダーが発行した認証主体を表す。
// Profileは取得に失敗した場合nilになる（機能制限モード）。
type Identity struct {
	ID      string
	Email   string
	Profile *Profile
}

// Role はProfileが存在する場合にその役割を返す。
func (i *Identity) Role() (Role, bool) {
	if i == nil || i.Profile == nil {
		return "", false
	}
	return i.Profile.Role, true
}

// Profile はIdentityに1対1で紐付くアプリケーションレベルのレコード。
type Profile struct {
	ID                string
	Role              Role
	SavedProperties   []int64 // role=renterの場合のみ意味を持つ
	PreferredLanguage Language
	ContactName       string
	ContactPhone      string
	Email             string // usersからJOINして設定される
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasSaved は指定物件が保存済みかどうかを返す。
func (p *Profile) HasSaved(propertyID int64) bool {
	for _, id := range p.SavedProperties {
		if id == propertyID {
			return true
		}
	}
	return false
}

// Clone はProfileのディープコピーを返す。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.SavedProperties = append([]int64(nil), p.SavedProperties...)
	return &c
}

// ProfileUpdate はProfileの部分更新を表す。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Role              *Role
	SavedProperties   []int64 // nilの場合は変更しない。空スライスは全削除
	PreferredLanguage *Language
	ContactName       *string
	ContactPhone      *string
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.Role == nil && u.SavedProperties == nil && u.PreferredLanguage == nil &&
		u.ContactName == nil && u.ContactPhone == nil
}

// SignupRequest はサインアップ時に認証プロバイダーへ渡す資格情報と初期プロフィール。
type SignupRequest struct {
	Email             string
	Password          string
	Role              Role
	PreferredLanguage Language
	ContactName       string
	ContactPhone      string
}

// DefaultContactName はメールアドレスのローカル部をデフォルトの連絡先名として返す。
func DefaultContactName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Credential は認証プロバイダーが保持する資格情報を表す。
type Credential struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuthEventType は認証状態変化イベントの種別。
type AuthEventType string

const (
	// AuthEventSignedIn はサインイン済み状態への遷移。
	AuthEventSignedIn AuthEventType = "SIGNED_IN"
	// AuthEventSignedOut はサインアウト状態への遷移。
	AuthEventSignedOut AuthEventType = "SIGNED_OUT"
)

// AuthEvent は認証状態ストリームから配信されるイベント。
// 購読直後の最初のイベントは初期状態のスナップショットを兼ねる。
type AuthEvent struct {
	Type     AuthEventType
	Identity *Identity // SignedInの場合のみ設定される（Profileは未設定）
}
