package session

// watcher は状態変化の通知先。バッファは1で、未読の古い状態は最新で上書きする。
type watcher struct {
	ch     chan Snapshot
	closed bool
}

// Watch は状態変化の通知を購読する。最初の値は現在の状態。
// 受信側が遅れた場合、途中の状態は省略され最新の状態のみが届く。
// 返された関数で購読を解除する。
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	w := &watcher{ch: make(chan Snapshot, 1)}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	w.ch <- m.snapshotLocked()
	m.mu.Unlock()

	return w.ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, w)
		w.closeLocked()
	}
}

func (w *watcher) closeLocked() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

func (m *Manager) notifyLocked() {
	for w := range m.watchers {
		select {
		case <-w.ch:
		default:
		}
		w.ch <- m.snapshotLocked()
	}
}
