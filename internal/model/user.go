// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Role は管理画面で扱うユーザーのロール。
// 空文字は「未設定」を表す。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"

	// RoleAll はフィルタ専用の値で、ロールによる絞り込みを行わないことを示す。
	RoleAll Role = "all"
)

// Valid は既知のロールかどうかを返す。RoleAll は含まない。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	default:
		return false
	}
}

// Status はユーザーのアカウント状態。
// リモート側のリビジョンによって値の集合が異なるため、列挙を固定しない。
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"

	// StatusAll はフィルタ専用の値で、状態による絞り込みを行わないことを示す。
	StatusAll Status = "all"
)

// User は管理画面から見た1アカウントを表す。
// IDはロード後に変更されない。
type User struct {
	ID           string
	Name         string
	Email        string
	Avatar       string
	FullName     string
	CreatedAt    *time.Time
	LastSignInAt *time.Time
	Role         Role
	Status       Status
}

// UserFilters は一覧表示の絞り込み条件。
// ゼロ値または "all" のフィールドはその次元で絞り込まないことを意味する。
type UserFilters struct {
	Search string
	Role   Role
	Status Status
	Page   int
	Limit  int
}

// 既定のページ番号とページサイズ。
const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// EffectivePage はページ番号を返す。未設定なら1。
func (f UserFilters) EffectivePage() int {
	if f.Page <= 0 {
		return DefaultPage
	}
	return f.Page
}

// EffectiveLimit はページサイズを返す。未設定なら10。
func (f UserFilters) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// PaginatedUsers は絞り込み済み集合のページ単位の切り出し。保存はされない派生値。
type PaginatedUsers struct {
	Users      []User
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// UserStats は正準集合全体に対する集計値。
type UserStats struct {
	Total        int
	Active       int
	Inactive     int
	NewThisMonth int
}

// UserRecord はリモートのusersテーブルから返る1行。
// リビジョンによって name / full_name、文字列 / 真偽値の status が混在するため、
// 揺れるフィールドは生のまま保持し、マッパー側で形を判定する。
type UserRecord struct {
	ID           string          `json:"id"`
	Email        *string         `json:"email"`
	Name         *string         `json:"name"`
	FullName     *string         `json:"full_name"`
	AvatarURL    *string         `json:"avatar_url"`
	Role         *string         `json:"role"`
	Status       json.RawMessage `json:"status"`
	CreatedAt    *string         `json:"created_at"`
	UpdatedAt    *string         `json:"updated_at"`
	LastSignInAt *string         `json:"last_sign_in_at"`
	UserMetadata map[string]any  `json:"user_metadata"`
}

// CreateUserInput はユーザー招待・作成時の入力。
type CreateUserInput struct {
	Email string
	Name  string
	Role  Role
}

// UpdateUserInput はユーザー更新時の入力。nilのフィールドは変更しない。
type UpdateUserInput struct {
	Name  *string
	Email *string
	Role  *Role
}

// AuthUser は認証APIが返すアカウント情報。
type AuthUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    string         `json:"created_at"`
	LastSignInAt string         `json:"last_sign_in_at"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// Profile はログイン中アカウントの表示用プロフィール。
type Profile struct {
	ID           string
	Name         string
	Email        string
	Avatar       string
	FullName     string
	CreatedAt    string
	LastSignInAt string
	Provider     string
}
