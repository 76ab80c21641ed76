package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/adminpanel/internal/listview"
	"github.com/hitoshi/adminpanel/internal/middleware"
	"github.com/hitoshi/adminpanel/internal/model"
	"github.com/hitoshi/adminpanel/internal/user"
	"github.com/hitoshi/adminpanel/internal/validation"
)

// ViewProvider はセッションごとの一覧画面コントローラを払い出す。
// 戻り値の bool は新規に生成したかどうか。
type ViewProvider interface {
	Get(sessionID string) (*listview.Controller, bool)
}

// UserHandlerConfig はユーザー管理ハンドラーの設定。
type UserHandlerConfig struct {
	Location    *time.Location // 日付表示のタイムゾーン
	MaxPageSize int            // 表示件数の上限。0以下ならDefaultMaxPageSize
}

// DefaultMaxPageSize は表示件数の上限のデフォルト値。
const DefaultMaxPageSize = 100

// UserHandler はユーザー管理画面のHTTPハンドラー。
type UserHandler struct {
	views     ViewProvider
	sanitizer NameSanitizer
	presenter presenter
	maxLimit  int
	logger    *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(views ViewProvider, sanitizer NameSanitizer, config UserHandlerConfig, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	maxLimit := config.MaxPageSize
	if maxLimit <= 0 {
		maxLimit = DefaultMaxPageSize
	}
	return &UserHandler{
		views:     views,
		sanitizer: sanitizer,
		presenter: presenter{sanitizer: sanitizer, loc: config.Location, now: time.Now},
		maxLimit:  maxLimit,
		logger:    logger,
	}
}

type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

type statusRequest struct {
	Status    model.Status `json:"status"`
	Confirmed bool         `json:"confirmed"`
}

type toggleSelectionRequest struct {
	ID string `json:"id"`
}

type createUserRequest struct {
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

type updateUserRequest struct {
	Name  *string     `json:"name"`
	Email *string     `json:"email"`
	Role  *model.Role `json:"role"`
}

// controller はリクエストのセッションに対応するコントローラを返す。
// 初めて使われるコントローラは一覧を読み込んでから返す。
func (h *UserHandler) controller(w http.ResponseWriter, r *http.Request) (*listview.Controller, bool) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}

	ctl, created := h.views.Get(session.ID)
	if created {
		// 失敗はビューのエラーとして返す
		if err := ctl.Load(r.Context()); err != nil && !errors.Is(err, user.ErrStaleLoad) {
			h.logger.Warn("initial user list load failed",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
	return ctl, true
}

// List は一覧画面の状態を返す。クエリパラメータは画面操作として反映する。
// GET /api/users?search=&role=&status=&limit=&page=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	if apiErr := applyListQuery(ctl, r, h.maxLimit); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	writeJSON(w, http.StatusOK, h.presenter.view(ctl.Snapshot()))
}

// applyListQuery は現在の状態と異なる条件だけを反映する。
// 同じ条件を送り直しても選択状態やページは維持される。
func applyListQuery(ctl *listview.Controller, r *http.Request, maxLimit int) *model.APIError {
	q := r.URL.Query()
	current := ctl.Snapshot()

	if q.Has("search") && strings.TrimSpace(q.Get("search")) != current.Search {
		ctl.SetSearch(q.Get("search"))
	}
	if q.Has("role") {
		role := model.Role(q.Get("role"))
		if role != "" && role != model.RoleAll && !role.Valid() {
			return model.NewValidationError("ロールの指定が正しくありません。")
		}
		if role == "" {
			role = model.RoleAll
		}
		if role != current.Role {
			ctl.SetRoleFilter(role)
		}
	}
	if q.Has("status") {
		status := model.Status(q.Get("status"))
		if status == "" {
			status = model.StatusAll
		}
		if status != current.Status {
			ctl.SetStatusFilter(status)
		}
	}
	if q.Has("limit") {
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit <= 0 || limit > maxLimit {
			return model.NewValidationError(fmt.Sprintf("表示件数は1以上%d以下の整数で指定してください。", maxLimit))
		}
		if limit != current.Page.Limit {
			ctl.SetPageSize(limit)
		}
	}
	if q.Has("page") {
		page, err := strconv.Atoi(q.Get("page"))
		if err != nil {
			return model.NewValidationError("ページ番号は整数で指定してください。")
		}
		// 範囲外のページは無視する
		if page != ctl.Snapshot().Page.Page {
			ctl.GoToPage(page)
		}
	}
	return nil
}

// Refresh は選択を解除して一覧を再読み込みする。
// POST /api/users/refresh
func (h *UserHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	if err := ctl.Refresh(r.Context()); err != nil && !errors.Is(err, user.ErrStaleLoad) {
		var loadErr *model.LoadError
		if !errors.As(err, &loadErr) {
			handleServiceError(w, r, err)
			return
		}
		// ロード失敗時も直前の一覧とエラーを返す
	}

	writeJSON(w, http.StatusOK, h.presenter.view(ctl.Snapshot()))
}

// Stats は全件に対する集計値を返す。
// GET /api/users/stats
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.stats(ctl.Snapshot().Stats))
}

// ClearFilters は絞り込みと選択を初期状態に戻す。
// POST /api/users/filters/clear
func (h *UserHandler) ClearFilters(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctl.ClearFilters()
	writeJSON(w, http.StatusOK, h.presenter.view(ctl.Snapshot()))
}

// ToggleSelection は1件の選択を切り替える。
// POST /api/users/selection/toggle
func (h *UserHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req toggleSelectionRequest
	if err := decodeJSON(r, &req, false); err != nil || req.ID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	ctl.ToggleSelection(req.ID)
	h.writeSelection(w, ctl)
}

// ToggleAll は表示中のページ全件の選択を切り替える。
// POST /api/users/selection/toggle-all
func (h *UserHandler) ToggleAll(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctl.ToggleAll()
	h.writeSelection(w, ctl)
}

// ClearSelection は選択をすべて解除する。
// DELETE /api/users/selection
func (h *UserHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctl.ClearSelection()
	h.writeSelection(w, ctl)
}

func (h *UserHandler) writeSelection(w http.ResponseWriter, ctl *listview.Controller) {
	writeJSON(w, http.StatusOK, SelectionResponse{
		Selected:    nonNilStrings(ctl.Selected()),
		AllSelected: ctl.IsAllSelected(),
	})
}

// Get はユーザー1件をリモートから取得する。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	u, err := ctl.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.user(u))
}

// Create はユーザーを招待する。
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	input := model.CreateUserInput{
		Email: strings.TrimSpace(req.Email),
		Name:  req.Name,
		Role:  req.Role,
	}
	if h.sanitizer != nil {
		input.Name = h.sanitizer.Sanitize(input.Name)
	}
	if err := validation.ValidateUserForm(input); err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := ctl.CreateUser(r.Context(), input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.presenter.user(u))
}

// Update はユーザーを部分更新する。
// PATCH /api/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	input := model.UpdateUserInput{Name: req.Name, Email: req.Email, Role: req.Role}
	if h.sanitizer != nil {
		input.Name = h.sanitizer.SanitizePtr(input.Name)
	}
	if err := validation.ValidateUserPatch(input); err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := ctl.UpdateUser(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.user(u))
}

// Delete はユーザーを削除する。確認済みでなければ確認文言を返す。
// DELETE /api/users/{id}  body: {"confirmed": true}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := ctl.DeleteUser(r.Context(), chi.URLParam(r, "id"), listview.Confirmed(req.Confirmed)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus はユーザーの状態を変更する。status を省略した場合は有効と無効を切り替える。
// PUT /api/users/{id}/status  body: {"status": "suspended", "confirmed": true}
func (h *UserHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	id := chi.URLParam(r, "id")
	confirmer := listview.Confirmed(req.Confirmed)

	var (
		u   model.User
		err error
	)
	switch req.Status {
	case "":
		u, err = ctl.ToggleUserStatus(r.Context(), id, confirmer)
	case model.StatusAll:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("状態の指定が正しくありません。"))
		return
	default:
		u, err = ctl.SetUserStatus(r.Context(), id, req.Status, confirmer)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.user(u))
}

// BulkDelete は選択中のユーザーを一括削除する。
// POST /api/users/bulk/delete  body: {"confirmed": true}
func (h *UserHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := ctl.BulkDelete(r.Context(), listview.Confirmed(req.Confirmed))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.bulk(result))
}

// BulkSetStatus は選択中のユーザーの状態を一括変更する。
// POST /api/users/bulk/status  body: {"status": "inactive", "confirmed": true}
func (h *UserHandler) BulkSetStatus(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	if req.Status == "" || req.Status == model.StatusAll {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("状態の指定が正しくありません。"))
		return
	}

	result, err := ctl.BulkSetStatus(r.Context(), req.Status, listview.Confirmed(req.Confirmed))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.bulk(result))
}
