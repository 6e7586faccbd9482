package model

// AuthStream は認証状態イベントの購読ハンドル。
// 最初のイベントは購読時点の状態のスナップショット。Closeは複数回呼び出しても安全。
type AuthStream interface {
	Events() <-chan AuthEvent
	Close()
}

// MessageStream はメッセージ挿入フィードの購読ハンドル。
// Close後、Eventsのチャネルはクローズされる。
type MessageStream interface {
	Events() <-chan MessageEvent
	Close()
}
