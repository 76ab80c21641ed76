package handler

import (
	"time"

	"github.com/hitoshi/adminpanel/internal/format"
	"github.com/hitoshi/adminpanel/internal/listview"
	"github.com/hitoshi/adminpanel/internal/model"
)

// NameSanitizer はユーザー名からマークアップを除去する。
type NameSanitizer interface {
	Sanitize(text string) string
	SanitizePtr(text *string) *string
}

// UserResponse はユーザー1件のレスポンス。表示用のラベルを含む。
type UserResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	Avatar            string  `json:"avatar,omitempty"`
	FullName          string  `json:"full_name,omitempty"`
	Role              string  `json:"role"`
	RoleLabel         string  `json:"role_label"`
	RoleBadge         string  `json:"role_badge"`
	Status            string  `json:"status"`
	StatusLabel       string  `json:"status_label"`
	StatusBadge       string  `json:"status_badge"`
	CreatedAt         *string `json:"created_at"`
	CreatedAtDisplay  string  `json:"created_at_display"`
	LastSignInAt      *string `json:"last_sign_in_at"`
	LastSignInDisplay string  `json:"last_sign_in_display"`
}

// StatsResponse は集計値のレスポンス。
type StatsResponse struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Inactive     int `json:"inactive"`
	NewThisMonth int `json:"new_this_month"`
}

// FiltersResponse は現在の絞り込み条件。
type FiltersResponse struct {
	Search string `json:"search"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// ViewResponse は一覧画面の状態のレスポンス。
type ViewResponse struct {
	Users       []UserResponse  `json:"users"`
	Total       int             `json:"total"`
	Page        int             `json:"page"`
	Limit       int             `json:"limit"`
	TotalPages  int             `json:"total_pages"`
	PageNumbers []int           `json:"page_numbers"`
	HasPrev     bool            `json:"has_prev"`
	HasNext     bool            `json:"has_next"`
	Stats       StatsResponse   `json:"stats"`
	Filters     FiltersResponse `json:"filters"`
	Selected    []string        `json:"selected"`
	AllSelected bool            `json:"all_selected"`
	Loading     bool            `json:"loading"`
	Error       *string         `json:"error"`
}

// SelectionResponse は選択状態のレスポンス。
type SelectionResponse struct {
	Selected    []string `json:"selected"`
	AllSelected bool     `json:"all_selected"`
}

// BulkResponse は一括操作の結果。
type BulkResponse struct {
	Action    string            `json:"action"`
	Succeeded []string          `json:"succeeded"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Summary   string            `json:"summary"`
}

// ProfileResponse はログイン中ユーザーのプロフィール。
type ProfileResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Avatar       string `json:"avatar,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	Provider     string `json:"provider,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	LastSignInAt string `json:"last_sign_in_at,omitempty"`
}

// presenter はドメイン型を画面向けのレスポンスに変換する。
type presenter struct {
	sanitizer NameSanitizer
	loc       *time.Location
	now       func() time.Time
}

func (p presenter) user(u model.User) UserResponse {
	name, fullName := u.Name, u.FullName
	if p.sanitizer != nil {
		name = p.sanitizer.Sanitize(name)
		fullName = p.sanitizer.Sanitize(fullName)
	}
	return UserResponse{
		ID:                u.ID,
		Name:              name,
		Email:             u.Email,
		Avatar:            u.Avatar,
		FullName:          fullName,
		Role:              string(u.Role),
		RoleLabel:         format.RoleLabel(u.Role),
		RoleBadge:         format.RoleBadgeClass(u.Role),
		Status:            string(u.Status),
		StatusLabel:       format.StatusLabel(u.Status),
		StatusBadge:       format.StatusBadgeClass(u.Status),
		CreatedAt:         rfc3339(u.CreatedAt),
		CreatedAtDisplay:  format.Date(u.CreatedAt, p.loc),
		LastSignInAt:      rfc3339(u.LastSignInAt),
		LastSignInDisplay: format.RelativeTime(u.LastSignInAt, p.now(), p.loc),
	}
}

func (p presenter) users(users []model.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, p.user(u))
	}
	return out
}

func (p presenter) stats(s model.UserStats) StatsResponse {
	return StatsResponse{
		Total:        s.Total,
		Active:       s.Active,
		Inactive:     s.Inactive,
		NewThisMonth: s.NewThisMonth,
	}
}

func (p presenter) view(v listview.View) ViewResponse {
	resp := ViewResponse{
		Users:       p.users(v.Page.Users),
		Total:       v.Page.Total,
		Page:        v.Page.Page,
		Limit:       v.Page.Limit,
		TotalPages:  v.Page.TotalPages,
		PageNumbers: nonNilInts(v.PageNumbers),
		HasPrev:     v.HasPrev,
		HasNext:     v.HasNext,
		Stats:       p.stats(v.Stats),
		Filters: FiltersResponse{
			Search: v.Search,
			Role:   string(v.Role),
			Status: string(v.Status),
		},
		Selected:    nonNilStrings(v.Selected),
		AllSelected: v.AllSelected,
		Loading:     v.Loading,
	}
	if v.Err != nil {
		msg := v.Err.Error()
		resp.Error = &msg
	}
	return resp
}

func (p presenter) bulk(r listview.BulkResult) BulkResponse {
	return BulkResponse{
		Action:    r.Action,
		Succeeded: nonNilStrings(r.Succeeded),
		Failed:    nonNilStrings(r.Failed),
		Errors:    r.Errors,
		Summary:   r.Summary(),
	}
}

func (p presenter) profile(pr model.Profile) ProfileResponse {
	name, fullName := pr.Name, pr.FullName
	if p.sanitizer != nil {
		name = p.sanitizer.Sanitize(name)
		fullName = p.sanitizer.Sanitize(fullName)
	}
	return ProfileResponse{
		ID:           pr.ID,
		Name:         name,
		Email:        pr.Email,
		Avatar:       pr.Avatar,
		FullName:     fullName,
		Provider:     pr.Provider,
		CreatedAt:    pr.CreatedAt,
		LastSignInAt: pr.LastSignInAt,
	}
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
