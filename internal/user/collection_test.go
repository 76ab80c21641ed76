package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

// --- モック ---

type mockStore struct {
	listFn      func(ctx context.Context) ([]model.UserRecord, error)
	getFn       func(ctx context.Context, id string) (*model.UserRecord, error)
	createFn    func(ctx context.Context, input model.CreateUserInput) (*model.UserRecord, error)
	updateFn    func(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error)
	deleteFn    func(ctx context.Context, id string) error
	setStatusFn func(ctx context.Context, id string, status model.Status) (*model.UserRecord, error)
}

func (m *mockStore) ListUsers(ctx context.Context) ([]model.UserRecord, error) {
	return m.listFn(ctx)
}
func (m *mockStore) GetUser(ctx context.Context, id string) (*model.UserRecord, error) {
	return m.getFn(ctx, id)
}
func (m *mockStore) CreateUser(ctx context.Context, input model.CreateUserInput) (*model.UserRecord, error) {
	return m.createFn(ctx, input)
}
func (m *mockStore) UpdateUser(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error) {
	return m.updateFn(ctx, id, input)
}
func (m *mockStore) DeleteUser(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}
func (m *mockStore) SetUserStatus(ctx context.Context, id string, status model.Status) (*model.UserRecord, error) {
	return m.setStatusFn(ctx, id, status)
}

type mockObserver struct {
	mu       sync.Mutex
	outcomes []string
	stale    int
}

func (m *mockObserver) ObserveLoad(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *mockObserver) IncStaleLoad() {
	m.mu.Lock()
	m.stale++
	m.mu.Unlock()
}

// --- ヘルパー ---

func record(id, role string, status string) model.UserRecord {
	return model.UserRecord{
		ID:     id,
		Email:  strPtr(id + "@example.com"),
		Name:   strPtr("user " + id),
		Role:   strPtr(role),
		Status: json.RawMessage(`"` + status + `"`),
	}
}

// twelveRecords は12件中5件がadminのレコードを返す。
func twelveRecords() []model.UserRecord {
	recs := make([]model.UserRecord, 12)
	for i := range recs {
		role := "user"
		if i%2 == 0 && i < 10 {
			role = "admin"
		}
		recs[i] = record(fmt.Sprintf("u%02d", i+1), role, "active")
	}
	return recs
}

func loadedCollection(t *testing.T, recs []model.UserRecord) (*Collection, *mockStore) {
	t.Helper()
	store := &mockStore{
		listFn: func(ctx context.Context) ([]model.UserRecord, error) { return recs, nil },
	}
	c := NewCollection(store, nil, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c, store
}

// --- テスト ---

// TestCollection_LoadThenFilter はロール絞り込み後も集計が正準集合全体を対象にすることを検証する。
func TestCollection_LoadThenFilter(t *testing.T) {
	c, _ := loadedCollection(t, twelveRecords())

	c.SetFilters(model.UserFilters{Role: model.RoleAdmin})

	users := c.Users()
	if len(users) != 5 {
		t.Fatalf("expected 5 admins, got %d", len(users))
	}
	for _, u := range users {
		if u.Role != model.RoleAdmin {
			t.Errorf("unexpected role %q", u.Role)
		}
	}
	if c.Stats().Total != 12 {
		t.Errorf("stats total = %d, want 12", c.Stats().Total)
	}
	if len(c.All()) != 12 {
		t.Errorf("canonical set size = %d", len(c.All()))
	}
}

// TestCollection_LoadPreservesOrder はフェッチ順が維持されることを検証する。
func TestCollection_LoadPreservesOrder(t *testing.T) {
	c, _ := loadedCollection(t, twelveRecords())
	c.SetFilters(model.UserFilters{Role: model.RoleAll, Status: model.StatusAll})

	got := c.Users()
	for i, u := range got {
		if want := fmt.Sprintf("u%02d", i+1); u.ID != want {
			t.Fatalf("position %d: got %s, want %s", i, u.ID, want)
		}
	}
}

// TestCollection_LoadFailureKeepsState は失敗時に正準集合を変更せずエラー状態を設定することを検証する。
func TestCollection_LoadFailureKeepsState(t *testing.T) {
	obs := &mockObserver{}
	calls := 0
	remoteErr := &model.RemoteError{Op: "listUsers", StatusCode: 500, Message: "database unavailable"}
	store := &mockStore{
		listFn: func(ctx context.Context) ([]model.UserRecord, error) {
			calls++
			if calls == 1 {
				return twelveRecords(), nil
			}
			return nil, remoteErr
		},
	}
	c := NewCollection(store, obs, nil)

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("first load: %v", err)
	}

	err := c.Load(context.Background())
	var loadErr *model.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if err.Error() != "database unavailable" {
		t.Errorf("message = %q, want remote message verbatim", err.Error())
	}
	var re *model.RemoteError
	if !errors.As(err, &re) {
		t.Error("expected RemoteError in chain")
	}
	if len(c.All()) != 12 {
		t.Errorf("canonical set should be untouched, got %d", len(c.All()))
	}
	if c.Err() == nil {
		t.Error("expected error state to be set")
	}
	if c.Loading() {
		t.Error("loading flag should be cleared")
	}
	if len(obs.outcomes) != 2 || obs.outcomes[1] != "failure" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}

	calls = 0
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.Err() != nil {
		t.Error("successful load should clear error")
	}
}

// TestCollection_StaleLoadDiscarded は後発のロードの結果が先発の遅延結果に上書きされないことを検証する。
func TestCollection_StaleLoadDiscarded(t *testing.T) {
	obs := &mockObserver{}
	releaseA := make(chan struct{})
	startedA := make(chan struct{})

	var mu sync.Mutex
	call := 0
	store := &mockStore{
		listFn: func(ctx context.Context) ([]model.UserRecord, error) {
			mu.Lock()
			call++
			n := call
			mu.Unlock()

			if n == 1 {
				close(startedA)
				<-releaseA
				// キャンセルを無視して古い結果を返すリモートを模倣する
				return []model.UserRecord{record("stale", "user", "active")}, nil
			}
			return []model.UserRecord{record("fresh", "admin", "active")}, nil
		},
	}
	c := NewCollection(store, obs, nil)

	errA := make(chan error, 1)
	go func() { errA <- c.Load(context.Background()) }()
	<-startedA

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load B: %v", err)
	}
	close(releaseA)

	if err := <-errA; !errors.Is(err, ErrStaleLoad) {
		t.Fatalf("load A: expected ErrStaleLoad, got %v", err)
	}

	all := c.All()
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Errorf("canonical set = %+v, want B's result", all)
	}
	if c.Err() != nil {
		t.Errorf("stale load must not set error, got %v", c.Err())
	}
	if c.Loading() {
		t.Error("loading flag should be cleared")
	}
	if obs.stale != 1 {
		t.Errorf("stale count = %d", obs.stale)
	}
}

// TestCollection_StaleLoadCancelled は先発のロードのコンテキストがキャンセルされることを検証する。
func TestCollection_StaleLoadCancelled(t *testing.T) {
	startedA := make(chan struct{})
	var once sync.Once
	store := &mockStore{
		listFn: func(ctx context.Context) ([]model.UserRecord, error) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(startedA)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []model.UserRecord{record("fresh", "user", "active")}, nil
		},
	}
	c := NewCollection(store, nil, nil)

	errA := make(chan error, 1)
	go func() { errA <- c.Load(context.Background()) }()
	<-startedA

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load B: %v", err)
	}

	select {
	case err := <-errA:
		if !errors.Is(err, ErrStaleLoad) {
			t.Errorf("expected ErrStaleLoad, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("load A was not cancelled")
	}
	if c.Err() != nil {
		t.Errorf("cancelled load must not set error, got %v", c.Err())
	}
}

// TestCollection_Delete は削除成功時に正準集合から取り除かれることを検証する。
func TestCollection_Delete(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	store.deleteFn = func(ctx context.Context, id string) error { return nil }

	if err := c.Delete(context.Background(), "u01"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := c.Find("u01"); ok {
		t.Error("u01 should be removed")
	}
	if len(c.All()) != 11 {
		t.Errorf("size = %d", len(c.All()))
	}
}

// TestCollection_MutationFailure は失敗時に正準集合が変更されないことを検証する。
func TestCollection_MutationFailure(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	boom := &model.RemoteError{Op: "deleteUser", StatusCode: 403, Message: "permission denied"}
	store.deleteFn = func(ctx context.Context, id string) error { return boom }
	store.updateFn = func(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error) {
		return nil, boom
	}

	if err := c.Delete(context.Background(), "u01"); !errors.Is(err, boom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	name := "changed"
	if _, err := c.Update(context.Background(), "u02", model.UpdateUserInput{Name: &name}); err == nil {
		t.Fatal("expected update error")
	}

	if len(c.All()) != 12 {
		t.Errorf("canonical set changed: %d", len(c.All()))
	}
	if u, _ := c.Find("u02"); u.Name != "user u02" {
		t.Errorf("user updated speculatively: %+v", u)
	}
	if !errors.Is(c.Err(), boom) {
		t.Errorf("error state = %v", c.Err())
	}
	if c.Loading() {
		t.Error("loading flag should be cleared")
	}
}

// TestCollection_MutationErrorSurvivesLaterMutations は後続の操作でエラー状態が消えないことを検証する。
func TestCollection_MutationErrorSurvivesLaterMutations(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	boom := &model.RemoteError{Op: "deleteUser", StatusCode: 500, Message: "internal error"}
	store.deleteFn = func(ctx context.Context, id string) error {
		if id == "u01" {
			return boom
		}
		return nil
	}

	if err := c.Delete(context.Background(), "u01"); !errors.Is(err, boom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if err := c.Delete(context.Background(), "u02"); err != nil {
		t.Fatalf("Delete(u02): %v", err)
	}
	if !errors.Is(c.Err(), boom) {
		t.Errorf("error state = %v, want the earlier failure", c.Err())
	}
	if len(c.All()) != 11 {
		t.Errorf("size = %d, want 11", len(c.All()))
	}

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.Err() != nil {
		t.Errorf("load should clear error, got %v", c.Err())
	}
}

// TestCollection_CreateAppends は作成成功時に末尾へ追加されることを検証する。
func TestCollection_CreateAppends(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	store.createFn = func(ctx context.Context, input model.CreateUserInput) (*model.UserRecord, error) {
		rec := record("new", string(input.Role), "inactive")
		rec.Name = nil
		rec.FullName = strPtr(input.Name)
		return &rec, nil
	}

	u, err := c.Create(context.Background(), model.CreateUserInput{Email: "new@example.com", Name: "New User", Role: model.RoleModerator})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Name != "New User" || u.Status != model.StatusInactive || u.Role != model.RoleModerator {
		t.Errorf("unexpected user: %+v", u)
	}
	all := c.All()
	if all[len(all)-1].ID != "new" {
		t.Error("new user should be appended")
	}
}

// TestCollection_UpdateReplaces はID一致の要素だけが置き換わることを検証する。
func TestCollection_UpdateReplaces(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	store.updateFn = func(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error) {
		rec := record(id, "moderator", "active")
		rec.Name = input.Name
		return &rec, nil
	}

	name := "Renamed"
	if _, err := c.Update(context.Background(), "u03", model.UpdateUserInput{Name: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}

	all := c.All()
	if all[2].ID != "u03" || all[2].Name != "Renamed" || all[2].Role != model.RoleModerator {
		t.Errorf("u03 = %+v", all[2])
	}
	if all[1].Name != "user u02" {
		t.Errorf("other users must not change: %+v", all[1])
	}
}

// TestCollection_SetStatusForcesRequestedValue は返却行の形に関わらず要求した状態が反映されることを検証する。
func TestCollection_SetStatusForcesRequestedValue(t *testing.T) {
	c, store := loadedCollection(t, twelveRecords())
	store.setStatusFn = func(ctx context.Context, id string, status model.Status) (*model.UserRecord, error) {
		rec := record(id, "user", "")
		rec.Status = json.RawMessage(`true`)
		return &rec, nil
	}

	u, err := c.SetStatus(context.Background(), "u02", model.StatusSuspended)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if u.Status != model.StatusSuspended {
		t.Errorf("status = %q", u.Status)
	}
	if found, _ := c.Find("u02"); found.Status != model.StatusSuspended {
		t.Errorf("state status = %q", found.Status)
	}
}

// TestCollection_Get はリモート取得と未存在時のエラーを検証する。
func TestCollection_Get(t *testing.T) {
	store := &mockStore{
		getFn: func(ctx context.Context, id string) (*model.UserRecord, error) {
			if id == "missing" {
				return nil, nil
			}
			rec := record(id, "admin", "active")
			return &rec, nil
		},
	}
	c := NewCollection(store, nil, nil)

	u, err := c.Get(context.Background(), "u1")
	if err != nil || u.ID != "u1" {
		t.Fatalf("get: %+v, %v", u, err)
	}

	_, err = c.Get(context.Background(), "missing")
	if !model.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestCollection_FiltersIdempotent はフィルタ操作の冪等性を検証する。
func TestCollection_FiltersIdempotent(t *testing.T) {
	c, _ := loadedCollection(t, twelveRecords())
	c.SetFilters(model.UserFilters{Search: "u0", Role: model.RoleAdmin, Page: 2, Limit: 3})

	before := c.Filters()
	c.SetFilters(model.UserFilters{})
	if c.Filters() != before {
		t.Errorf("SetFilters({}) changed filters: %+v", c.Filters())
	}

	c.SetFilters(model.UserFilters{Status: model.StatusActive})
	if f := c.Filters(); f.Role != model.RoleAdmin || f.Status != model.StatusActive || f.Page != 2 {
		t.Errorf("merge = %+v", f)
	}

	c.ClearFilters()
	once := c.Filters()
	usersOnce := ids(c.Users())
	c.ClearFilters()
	if c.Filters() != once || ids(c.Users()) != usersOnce {
		t.Error("ClearFilters is not idempotent")
	}
	if once != (model.UserFilters{}) {
		t.Errorf("filters after clear = %+v", once)
	}
}

// TestCollection_PaginatedUsesFilters はページングが絞り込み後の集合に適用されることを検証する。
func TestCollection_PaginatedUsesFilters(t *testing.T) {
	c, _ := loadedCollection(t, twelveRecords())
	c.SetFilters(model.UserFilters{Role: model.RoleAdmin, Limit: 2, Page: 3})

	p := c.Paginated()
	if p.Total != 5 || p.TotalPages != 3 || len(p.Users) != 1 {
		t.Errorf("page = %+v", p)
	}
}

// TestCollection_StatsUsesClock は集計が注入した時刻を使うことを検証する。
func TestCollection_StatsUsesClock(t *testing.T) {
	recs := twelveRecords()
	recs[0].CreatedAt = strPtr("2025-06-02T00:00:00Z")
	recs[1].CreatedAt = strPtr("2025-05-02T00:00:00Z")
	c, _ := loadedCollection(t, recs[:2])
	c.now = func() time.Time { return time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC) }

	if got := c.Stats().NewThisMonth; got != 1 {
		t.Errorf("newThisMonth = %d, want 1", got)
	}
}

func TestCollection_StatsUsesLocation(t *testing.T) {
	recs := twelveRecords()
	// JSTでは5/31 23:00、UTCでは5/31 14:00
	recs[0].CreatedAt = strPtr("2025-05-31T14:00:00Z")
	c, _ := loadedCollection(t, recs[:1])
	// JSTでは6/1 01:30、UTCでは5/31 16:30
	c.now = func() time.Time { return time.Date(2025, 5, 31, 16, 30, 0, 0, time.UTC) }

	c.SetLocation(time.UTC)
	if got := c.Stats().NewThisMonth; got != 1 {
		t.Errorf("UTC: newThisMonth = %d, want 1", got)
	}

	c.SetLocation(time.FixedZone("JST", 9*60*60))
	if got := c.Stats().NewThisMonth; got != 0 {
		t.Errorf("JST: newThisMonth = %d, want 0", got)
	}
}

// TestCollection_Reset は状態がすべて初期化されることを検証する。
func TestCollection_Reset(t *testing.T) {
	c, _ := loadedCollection(t, twelveRecords())
	c.SetFilters(model.UserFilters{Search: "x"})

	c.Reset()

	if len(c.All()) != 0 || c.Filters() != (model.UserFilters{}) || c.Err() != nil || c.Loading() {
		t.Error("state not reset")
	}
}
