// Package format はユーザー一覧画面の表示用の文字列を生成する。
package format

import (
	"fmt"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

const (
	// Placeholder は日時が無い、または不正な場合の表示。
	Placeholder = "-"
	// NeverSignedIn は一度もログインしていない場合の相対時刻表示。
	NeverSignedIn = "未ログイン"

	dateLayout     = "2006/01/02"
	dateTimeLayout = "2006/01/02 15:04"
)

// RoleLabel はロールの表示名を返す。
func RoleLabel(r model.Role) string {
	switch r {
	case model.RoleAdmin:
		return "管理者"
	case model.RoleModerator:
		return "モデレーター"
	case model.RoleUser:
		return "ユーザー"
	default:
		return "ロールなし"
	}
}

// StatusLabel は状態の表示名を返す。
func StatusLabel(s model.Status) string {
	switch s {
	case model.StatusActive:
		return "有効"
	case model.StatusInactive:
		return "無効"
	case model.StatusSuspended:
		return "停止中"
	default:
		return "不明"
	}
}

// RoleBadgeClass はロールのバッジのCSSクラスを返す。
func RoleBadgeClass(r model.Role) string {
	switch r {
	case model.RoleAdmin:
		return "badge-primary"
	case model.RoleModerator:
		return "badge-secondary"
	case model.RoleUser:
		return "badge-neutral"
	default:
		return "badge-ghost"
	}
}

// StatusBadgeClass は状態のバッジのCSSクラスを返す。
func StatusBadgeClass(s model.Status) string {
	switch s {
	case model.StatusActive:
		return "badge-success"
	case model.StatusInactive:
		return "badge-warning"
	case model.StatusSuspended:
		return "badge-error"
	default:
		return "badge-ghost"
	}
}

// Date は日付を loc のタイムゾーンで YYYY/MM/DD 形式にする。
func Date(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return Placeholder
	}
	return t.In(location(loc)).Format(dateLayout)
}

// DateTime は日時を loc のタイムゾーンで YYYY/MM/DD HH:MM 形式にする。
func DateTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return Placeholder
	}
	return t.In(location(loc)).Format(dateTimeLayout)
}

// RelativeTime は now からの経過時間を表示する。30日以上前は日付表示になる。
func RelativeTime(t *time.Time, now time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return NeverSignedIn
	}

	diff := now.Sub(*t)
	minutes := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))

	switch {
	case minutes < 1:
		return "たった今"
	case minutes < 60:
		return fmt.Sprintf("%d分前", minutes)
	case hours < 24:
		return fmt.Sprintf("%d時間前", hours)
	case days < 30:
		return fmt.Sprintf("%d日前", days)
	default:
		return Date(t, loc)
	}
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
