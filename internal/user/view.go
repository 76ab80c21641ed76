package user

import (
	"strings"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

// ApplyFilters はロール → 状態 → 検索語の順に絞り込み、元の順序を保った新しいスライスを返す。
// 条件が1つも無い場合は正準集合のコピーをそのまま返す。
func ApplyFilters(users []model.User, f model.UserFilters) []model.User {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	filterRole := f.Role != "" && f.Role != model.RoleAll
	filterStatus := f.Status != "" && f.Status != model.StatusAll

	result := make([]model.User, 0, len(users))
	for _, u := range users {
		if filterRole && u.Role != f.Role {
			continue
		}
		if filterStatus && u.Status != f.Status {
			continue
		}
		if search != "" && !matchesSearch(u, search) {
			continue
		}
		result = append(result, u)
	}
	return result
}

// matchesSearch は名前またはメールアドレスに検索語が含まれるかを判定する。term は小文字化済み。
func matchesSearch(u model.User, term string) bool {
	return strings.Contains(strings.ToLower(u.Name), term) ||
		strings.Contains(strings.ToLower(u.Email), term)
}

// ComputeStats は正準集合全体の集計値を返す。検索やページングの影響は受けない。
// 作成日時が無いユーザーは now に作成されたものとみなし、今月の新規に数える。
func ComputeStats(users []model.User, now time.Time) model.UserStats {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := model.UserStats{Total: len(users)}
	for _, u := range users {
		switch u.Status {
		case model.StatusActive:
			stats.Active++
		case model.StatusInactive:
			stats.Inactive++
		}

		created := now
		if u.CreatedAt != nil {
			created = *u.CreatedAt
		}
		if !created.Before(monthStart) {
			stats.NewThisMonth++
		}
	}
	return stats
}

// Paginate は絞り込み済みの集合からページ単位の切り出しを返す。
// 範囲外のページは空のスライスになる。
func Paginate(users []model.User, f model.UserFilters) model.PaginatedUsers {
	page := f.EffectivePage()
	limit := f.EffectiveLimit()
	total := len(users)

	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}

	// 乗算前に範囲外を判定して桁あふれを避ける
	var slice []model.User
	if page-1 < totalPages {
		start := (page - 1) * limit
		end := total
		if total-start > limit {
			end = start + limit
		}
		slice = make([]model.User, end-start)
		copy(slice, users[start:end])
	} else {
		slice = []model.User{}
	}

	return model.PaginatedUsers{
		Users:      slice,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}
