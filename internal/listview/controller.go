// Package listview はユーザー一覧画面のビュー状態を管理する。
// 検索語・絞り込み・ページ・選択状態を保持し、画面操作をユーザー一覧の状態と
// リモートの変更操作に変換する。
package listview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/adminpanel/internal/model"
)

// ErrNotConfirmed は破壊的操作が確認されなかったことを表す。
var ErrNotConfirmed = errors.New("action not confirmed")

// ConfirmationError は確認が得られなかった操作と、その確認文言を保持する。
type ConfirmationError struct {
	Prompt string
}

func (e *ConfirmationError) Error() string {
	return ErrNotConfirmed.Error() + ": " + e.Prompt
}

// Is は errors.Is(err, ErrNotConfirmed) を成立させる。
func (e *ConfirmationError) Is(target error) bool {
	return target == ErrNotConfirmed
}

// Confirmer は破壊的操作の実行前に確認を取るインターフェース。
// false を返した場合、リモート呼び出しは一切行われない。
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc は関数をConfirmerとして扱うアダプタ。
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm はConfirmerインターフェースを実装する。
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Confirmed はリクエストで既に確認済みかどうかが分かっている場合のConfirmerを返す。
func Confirmed(ok bool) Confirmer {
	return ConfirmFunc(func(context.Context, string) (bool, error) { return ok, nil })
}

// UserCollection はコントローラが操作するユーザー一覧の状態。
type UserCollection interface {
	Load(ctx context.Context) error
	ReplaceFilters(f model.UserFilters)
	ClearFilters()
	Paginated() model.PaginatedUsers
	Stats() model.UserStats
	Find(id string) (model.User, bool)
	Get(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, input model.CreateUserInput) (model.User, error)
	Update(ctx context.Context, id string, input model.UpdateUserInput) (model.User, error)
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status model.Status) (model.User, error)
	Loading() bool
	Err() error
}

// BulkObserver は一括操作の計測インターフェース。
type BulkObserver interface {
	ObserveBulkItem(action, outcome string)
}

// Controller は管理者1人分の一覧画面の状態。
type Controller struct {
	coll          UserCollection
	observer      BulkObserver
	logger        *slog.Logger
	maxConcurrent int

	mu       sync.Mutex
	search   string
	role     model.Role
	status   model.Status
	page     int
	limit    int
	selected []string
}

// NewController はControllerの新しいインスタンスを生成する。
// maxConcurrentが0以下の場合はデフォルト値5を使用する。observer は nil でもよい。
func NewController(coll UserCollection, observer BulkObserver, logger *slog.Logger, maxConcurrent int) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		coll:          coll,
		observer:      observer,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
	c.resetLocked()
	c.coll.ClearFilters()
	return c
}

func (c *Controller) resetLocked() {
	c.search = ""
	c.role = model.RoleAll
	c.status = model.StatusAll
	c.page = model.DefaultPage
	c.limit = model.DefaultLimit
	c.selected = nil
}

// pushLocked は現在の画面状態をフィルタとしてユーザー一覧に反映する。
func (c *Controller) pushLocked() {
	c.coll.ReplaceFilters(model.UserFilters{
		Search: c.search,
		Role:   c.role,
		Status: c.status,
		Page:   c.page,
		Limit:  c.limit,
	})
}

// Load は一覧をリモートから読み込む。選択状態は変更しない。
func (c *Controller) Load(ctx context.Context) error {
	return c.coll.Load(ctx)
}

// Refresh は選択を解除して一覧を再読み込みする。
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()
	return c.coll.Load(ctx)
}

// SetSearch は検索語を変更し、1ページ目に戻る。
func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search = strings.TrimSpace(term)
	c.filterChangedLocked()
}

// SetRoleFilter はロールの絞り込みを変更し、1ページ目に戻る。空文字は all として扱う。
func (c *Controller) SetRoleFilter(role model.Role) {
	if role == "" {
		role = model.RoleAll
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.filterChangedLocked()
}

// SetStatusFilter は状態の絞り込みを変更し、1ページ目に戻る。空文字は all として扱う。
func (c *Controller) SetStatusFilter(status model.Status) {
	if status == "" {
		status = model.StatusAll
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.filterChangedLocked()
}

// SetPageSize はページサイズを変更し、1ページ目に戻る。
func (c *Controller) SetPageSize(limit int) {
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
	c.filterChangedLocked()
}

func (c *Controller) filterChangedLocked() {
	c.page = 1
	c.selected = nil
	c.pushLocked()
}

// ClearFilters は検索語・絞り込み・ページ・ページサイズ・選択をすべて初期状態に戻す。
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.coll.ClearFilters()
}

// GoToPage は指定ページへ移動する。範囲外のページは無視して false を返す。
// 絞り込み条件は維持し、選択は解除する。
func (c *Controller) GoToPage(page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.coll.Paginated().TotalPages
	if page < 1 || (total > 0 && page > total) || (total == 0 && page != 1) {
		return false
	}
	c.page = page
	c.selected = nil
	c.pushLocked()
	return true
}

// FirstPage は1ページ目へ移動する。
func (c *Controller) FirstPage() bool {
	return c.GoToPage(1)
}

// LastPage は最終ページへ移動する。
func (c *Controller) LastPage() bool {
	return c.GoToPage(max(1, c.coll.Paginated().TotalPages))
}

// PrevPage は前のページがあれば移動する。
func (c *Controller) PrevPage() bool {
	if !c.HasPrev() {
		return false
	}
	return c.GoToPage(c.currentPage() - 1)
}

// NextPage は次のページがあれば移動する。
func (c *Controller) NextPage() bool {
	if !c.HasNext() {
		return false
	}
	return c.GoToPage(c.currentPage() + 1)
}

func (c *Controller) currentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// HasPrev は前のページがあるかを返す。
func (c *Controller) HasPrev() bool {
	return c.currentPage() > 1
}

// HasNext は次のページがあるかを返す。
func (c *Controller) HasNext() bool {
	return c.currentPage() < c.coll.Paginated().TotalPages
}

// ToggleSelection は1件の選択を切り替える。
// 新たに選択できるのは表示中ページの行だけで、それ以外のIDは無視する。選択済みのIDは常に解除できる。
func (c *Controller) ToggleSelection(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.selected, id); i >= 0 {
		c.selected = slices.Delete(c.selected, i, i+1)
		return
	}
	visible := c.coll.Paginated().Users
	if !slices.ContainsFunc(visible, func(u model.User) bool { return u.ID == id }) {
		return
	}
	c.selected = append(c.selected, id)
}

// ToggleAll は表示中ページの全行が選択済みなら選択を空にし、そうでなければ表示中ページの全行を選択する。
// 絞り込み結果全体ではなく、現在ページの行だけが対象になる。
func (c *Controller) ToggleAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := c.coll.Paginated().Users
	if allSelected(visible, c.selected) {
		c.selected = nil
		return
	}
	ids := make([]string, len(visible))
	for i, u := range visible {
		ids[i] = u.ID
	}
	c.selected = ids
}

// ClearSelection は選択を解除する。
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()
}

// Selected は選択中のIDを選択順で返す。
func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.selected)
}

// IsAllSelected は表示中ページの全行が選択されているかを返す。空ページでは false。
func (c *Controller) IsAllSelected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return allSelected(c.coll.Paginated().Users, c.selected)
}

func allSelected(visible []model.User, selected []string) bool {
	if len(visible) == 0 {
		return false
	}
	for _, u := range visible {
		if !slices.Contains(selected, u.ID) {
			return false
		}
	}
	return true
}

func (c *Controller) unselect(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = slices.DeleteFunc(c.selected, func(id string) bool {
		return slices.Contains(ids, id)
	})
}

// displayName は確認文言に使う表示名を返す。
func (c *Controller) displayName(id string) string {
	if u, ok := c.coll.Find(id); ok {
		if u.Name != "" {
			return u.Name
		}
		if u.Email != "" {
			return u.Email
		}
	}
	return id
}

func confirm(ctx context.Context, confirmer Confirmer, prompt string) error {
	if confirmer == nil {
		return &ConfirmationError{Prompt: prompt}
	}
	ok, err := confirmer.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("確認の取得に失敗しました: %w", err)
	}
	if !ok {
		return &ConfirmationError{Prompt: prompt}
	}
	return nil
}

// DeletePrompt は単一削除の確認文言を返す。
func (c *Controller) DeletePrompt(id string) string {
	return fmt.Sprintf("ユーザー「%s」を削除してもよろしいですか？", c.displayName(id))
}

// DeleteUser は確認の後にユーザーを削除し、選択から外す。
func (c *Controller) DeleteUser(ctx context.Context, id string, confirmer Confirmer) error {
	if err := confirm(ctx, confirmer, c.DeletePrompt(id)); err != nil {
		return err
	}
	if err := c.coll.Delete(ctx, id); err != nil {
		return err
	}
	c.unselect(id)
	return nil
}

// StatusPrompt は状態変更の確認文言を返す。
func (c *Controller) StatusPrompt(id string, status model.Status) string {
	return fmt.Sprintf("ユーザー「%s」を%sしてもよろしいですか？", c.displayName(id), statusVerb(status))
}

// NextStatus は状態トグルの遷移先を返す。有効なら無効へ、それ以外は有効へ。
func (c *Controller) NextStatus(id string) model.Status {
	if u, ok := c.coll.Find(id); ok && u.Status == model.StatusActive {
		return model.StatusInactive
	}
	return model.StatusActive
}

// SetUserStatus は確認の後にユーザーの状態を変更する。
func (c *Controller) SetUserStatus(ctx context.Context, id string, status model.Status, confirmer Confirmer) (model.User, error) {
	if err := confirm(ctx, confirmer, c.StatusPrompt(id, status)); err != nil {
		return model.User{}, err
	}
	return c.coll.SetStatus(ctx, id, status)
}

// ToggleUserStatus は有効・無効を反転する。
func (c *Controller) ToggleUserStatus(ctx context.Context, id string, confirmer Confirmer) (model.User, error) {
	return c.SetUserStatus(ctx, id, c.NextStatus(id), confirmer)
}

func statusVerb(status model.Status) string {
	switch status {
	case model.StatusActive:
		return "有効化"
	case model.StatusInactive:
		return "無効化"
	case model.StatusSuspended:
		return "停止"
	default:
		return fmt.Sprintf("「%s」に変更", status)
	}
}

// CreateUser はユーザーを招待する。作成は破壊的操作ではないため確認は取らない。
func (c *Controller) CreateUser(ctx context.Context, input model.CreateUserInput) (model.User, error) {
	return c.coll.Create(ctx, input)
}

// UpdateUser はユーザーを更新する。
func (c *Controller) UpdateUser(ctx context.Context, id string, input model.UpdateUserInput) (model.User, error) {
	return c.coll.Update(ctx, id, input)
}

// GetUser はリモートから1件取得する。
func (c *Controller) GetUser(ctx context.Context, id string) (model.User, error) {
	return c.coll.Get(ctx, id)
}

// FindUser は読み込み済みの一覧から1件探す。
func (c *Controller) FindUser(id string) (model.User, bool) {
	return c.coll.Find(id)
}

// View は一覧画面の状態のスナップショット。
type View struct {
	Page        model.PaginatedUsers
	Stats       model.UserStats
	Search      string
	Role        model.Role
	Status      model.Status
	Selected    []string
	AllSelected bool
	PageNumbers []int
	HasPrev     bool
	HasNext     bool
	Loading     bool
	Err         error
}

// Snapshot は現在の画面状態をまとめて返す。
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	page := c.coll.Paginated()
	return View{
		Page:        page,
		Stats:       c.coll.Stats(),
		Search:      c.search,
		Role:        c.role,
		Status:      c.status,
		Selected:    slices.Clone(c.selected),
		AllSelected: allSelected(page.Users, c.selected),
		PageNumbers: PageNumbers(c.page, page.TotalPages),
		HasPrev:     c.page > 1,
		HasNext:     c.page < page.TotalPages,
		Loading:     c.coll.Loading(),
		Err:         c.coll.Err(),
	}
}
