// Package user はユーザー一覧の状態管理と派生ビューを提供する。
// リモートのusersテーブルを正準集合としてメモリに保持し、絞り込み・集計・ページングは
// すべて読み取りのたびに正準集合とフィルタから計算する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

// ErrStaleLoad は後から開始されたロードによって結果が破棄されたことを表す。
// 呼び出し側はエラーとして扱わず無視してよい。
var ErrStaleLoad = errors.New("load superseded by a newer load")

// Store はリモートのユーザーストアへのアクセスインターフェース。
type Store interface {
	ListUsers(ctx context.Context) ([]model.UserRecord, error)
	// GetUser は該当行が無い場合 nil, nil を返す。
	GetUser(ctx context.Context, id string) (*model.UserRecord, error)
	CreateUser(ctx context.Context, input model.CreateUserInput) (*model.UserRecord, error)
	UpdateUser(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error)
	DeleteUser(ctx context.Context, id string) error
	SetUserStatus(ctx context.Context, id string, status model.Status) (*model.UserRecord, error)
}

// Observer はロード結果の計測インターフェース。
type Observer interface {
	ObserveLoad(outcome string, duration time.Duration)
	IncStaleLoad()
}

// Collection は1つの管理画面ビューが持つユーザー一覧の状態。
// 複数のHTTPハンドラから同時に呼ばれるため、状態はミューテックスで保護する。
// リモート呼び出しはロックの外で行う。
type Collection struct {
	store    Store
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location

	mu         sync.Mutex
	users      []model.User
	filters    model.UserFilters
	inflight   int
	lastErr    error
	loadSeq    uint64
	cancelLoad context.CancelFunc
}

// NewCollection はCollectionの新しいインスタンスを生成する。
// observer は nil でもよい。
func NewCollection(store Store, observer Observer, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		store:    store,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		loc:      time.Local,
	}
}

// SetLocation は「今月の新規」の月境界を判定するタイムゾーンを設定する。
func (c *Collection) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}

// Load はリモートから全件を取得して正準集合を置き換える。
// 新しいロードが開始されると古いロードのコンテキストはキャンセルされ、
// 古い結果は状態に反映されず ErrStaleLoad が返る。
// 失敗時は正準集合を変更せずエラー状態を設定し、*model.LoadError を返す。
func (c *Collection) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.loadSeq++
	seq := c.loadSeq
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.inflight++
	c.lastErr = nil
	c.mu.Unlock()
	defer cancel()

	start := time.Now()
	recs, err := c.store.ListUsers(loadCtx)
	duration := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--

	if seq != c.loadSeq {
		c.logger.Info("古いユーザー一覧のロード結果を破棄しました",
			slog.Uint64("load_seq", seq),
			slog.Uint64("current_seq", c.loadSeq),
		)
		if c.observer != nil {
			c.observer.IncStaleLoad()
		}
		return ErrStaleLoad
	}
	c.cancelLoad = nil

	if err != nil {
		loadErr := &model.LoadError{Err: err}
		c.lastErr = loadErr
		c.observe("failure", duration)
		c.logger.Error("ユーザー一覧のロードに失敗しました",
			slog.String("error", err.Error()),
		)
		return loadErr
	}

	c.users = FromRecords(recs)
	c.observe("success", duration)
	return nil
}

func (c *Collection) observe(outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLoad(outcome, d)
	}
}

// Create はユーザーを招待・作成し、成功後に正準集合の末尾へ追加する。
func (c *Collection) Create(ctx context.Context, input model.CreateUserInput) (model.User, error) {
	c.begin()
	rec, err := c.store.CreateUser(ctx, input)
	if err != nil {
		c.fail("create", "", err)
		return model.User{}, err
	}

	u := fromResult(rec, "")
	c.mu.Lock()
	c.users = append(c.users, u)
	c.inflight--
	c.mu.Unlock()
	return u, nil
}

// Update はユーザーを更新し、成功後に同じIDの要素を置き換える。
func (c *Collection) Update(ctx context.Context, id string, input model.UpdateUserInput) (model.User, error) {
	c.begin()
	rec, err := c.store.UpdateUser(ctx, id, input)
	if err != nil {
		c.fail("update", id, err)
		return model.User{}, err
	}

	u := fromResult(rec, id)
	c.mu.Lock()
	c.replace(id, u)
	c.inflight--
	c.mu.Unlock()
	return u, nil
}

// Delete はユーザーを削除し、成功後に正準集合から取り除く。
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.begin()
	if err := c.store.DeleteUser(ctx, id); err != nil {
		c.fail("delete", id, err)
		return err
	}

	c.mu.Lock()
	kept := c.users[:0:0]
	for _, u := range c.users {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	c.users = kept
	c.inflight--
	c.mu.Unlock()
	return nil
}

// SetStatus はユーザーの状態を変更する。
// リモートが返す行の形に関わらず、反映する状態は要求した値に揃える。
func (c *Collection) SetStatus(ctx context.Context, id string, status model.Status) (model.User, error) {
	c.begin()
	rec, err := c.store.SetUserStatus(ctx, id, status)
	if err != nil {
		c.fail("set_status", id, err)
		return model.User{}, err
	}

	u := fromResult(rec, id)
	u.Status = status
	c.mu.Lock()
	c.replace(id, u)
	c.inflight--
	c.mu.Unlock()
	return u, nil
}

// Get はリモートから1件取得する。状態は変更しない。
func (c *Collection) Get(ctx context.Context, id string) (model.User, error) {
	rec, err := c.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if rec == nil {
		return model.User{}, &model.NotFoundError{Resource: "user", ID: id}
	}
	return FromRecord(*rec), nil
}

// fromResult はミューテーションの戻り値を変換する。行が返らなかった場合はIDのみのUserになる。
func fromResult(rec *model.UserRecord, id string) model.User {
	if rec == nil {
		return model.User{ID: id}
	}
	u := FromRecord(*rec)
	if u.ID == "" {
		u.ID = id
	}
	return u
}

// begin はエラー状態を変更しない。
func (c *Collection) begin() {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()
}

func (c *Collection) fail(op, id string, err error) {
	c.mu.Lock()
	c.inflight--
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Error("ユーザー操作に失敗しました",
		slog.String("op", op),
		slog.String("user_id", id),
		slog.String("error", err.Error()),
	)
}

// replace はロック保持中に呼ぶこと。
func (c *Collection) replace(id string, u model.User) {
	next := make([]model.User, len(c.users))
	for i, existing := range c.users {
		if existing.ID == id {
			next[i] = u
		} else {
			next[i] = existing
		}
	}
	c.users = next
}

// SetFilters は部分フィルタを現在のフィルタに浅くマージする。
// ゼロ値のフィールドは上書きしない。正準集合には触れず、ロードも行わない。
func (c *Collection) SetFilters(partial model.UserFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if partial.Search != "" {
		c.filters.Search = partial.Search
	}
	if partial.Role != "" {
		c.filters.Role = partial.Role
	}
	if partial.Status != "" {
		c.filters.Status = partial.Status
	}
	if partial.Page > 0 {
		c.filters.Page = partial.Page
	}
	if partial.Limit > 0 {
		c.filters.Limit = partial.Limit
	}
}

// ReplaceFilters はフィルタを丸ごと置き換える。
// 検索語を空に戻す場合など、マージでは表現できない変更に使う。
func (c *Collection) ReplaceFilters(f model.UserFilters) {
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()
}

// ClearFilters はフィルタを空に戻す。
func (c *Collection) ClearFilters() {
	c.mu.Lock()
	c.filters = model.UserFilters{}
	c.mu.Unlock()
}

// Filters は現在のフィルタを返す。
func (c *Collection) Filters() model.UserFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// All は正準集合のコピーを返す。
func (c *Collection) All() []model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.User, len(c.users))
	copy(out, c.users)
	return out
}

// Users は現在のフィルタで絞り込んだ集合を返す。
func (c *Collection) Users() []model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ApplyFilters(c.users, c.filters)
}

// Paginated は絞り込み済み集合の現在ページを返す。
func (c *Collection) Paginated() model.PaginatedUsers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Paginate(ApplyFilters(c.users, c.filters), c.filters)
}

// Stats は正準集合全体の集計値を返す。
func (c *Collection) Stats() model.UserStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeStats(c.users, c.now().In(c.loc))
}

// Find は状態からIDで1件探す。
func (c *Collection) Find(id string) (model.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}

// Loading はいずれかの操作が実行中かを返す。
func (c *Collection) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Err は直近に失敗した操作のエラーを返す。エラーが無ければ nil。
// Load の開始と Reset でのみクリアされ、後続のミューテーションが成功しても残る。
func (c *Collection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset は状態を初期化する。実行中のロードがあればキャンセルし、その結果は破棄される。
func (c *Collection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	c.loadSeq++
	c.users = nil
	c.filters = model.UserFilters{}
	c.lastErr = nil
}
