package listview

import (
	"log/slog"
	"sync"
	"time"
)

// entry はセッションごとのコントローラと最終アクセス時刻を保持する。
type entry struct {
	ctrl       *Controller
	lastAccess time.Time
}

// Registry はログインセッションごとに一覧画面の状態を管理する。
// 画面状態の寿命はセッションと同じで、一定時間アクセスが無いものは破棄する。
type Registry struct {
	factory func() *Controller
	idleTTL time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	views map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成する。
// バックグラウンドでアイドル状態の画面状態のクリーンアップを開始する。
func NewRegistry(factory func() *Controller, idleTTL time.Duration, logger *slog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factory: factory,
		idleTTL: idleTTL,
		logger:  logger,
		views:   make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Get はセッションのコントローラを取得し、無ければ生成する。
// 戻り値の bool は新規に生成したかどうか。
func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.RLock()
	e, exists := r.views[sessionID]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		e.lastAccess = time.Now()
		r.mu.Unlock()
		return e.ctrl, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// ダブルチェック
	if e, exists := r.views[sessionID]; exists {
		e.lastAccess = time.Now()
		return e.ctrl, false
	}

	ctrl := r.factory()
	r.views[sessionID] = &entry{ctrl: ctrl, lastAccess: time.Now()}
	return ctrl, true
}

// Drop はセッションの画面状態を破棄する。ログアウト時に呼ぶ。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.views, sessionID)
	r.mu.Unlock()
}

// Len は管理中の画面状態の数を返す。テストおよびメトリクス用。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

func (r *Registry) cleanupLoop() {
	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// evictIdle は最終アクセスから idleTTL を超えた画面状態を削除する。
func (r *Registry) evictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.views {
		if now.Sub(e.lastAccess) > r.idleTTL {
			delete(r.views, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("アイドル状態の一覧画面を破棄しました",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(r.views)),
		)
	}
	return evicted
}
