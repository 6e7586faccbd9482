// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はメッセージ本文やプロフィールの連絡先など、
// ユーザーが入力する自由記述テキストからマークアップを除去する。
// bluemondayのStrictPolicyで全タグを拒否し、プレーンテキストのみを残す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化の機能のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、前後の空白を除いたテキストを返す。
	// script, styleタグは内容ごと除去される。
	// 出力はプレーンテキストであり、HTMLに埋め込む場合は表示側でエスケープすること。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyはテキスト中の特殊文字をエンティティに変換するため元に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(stripped)
}
