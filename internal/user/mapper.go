package user

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

// timestampLayouts はリモートが返しうる時刻表現。
// PostgRESTはRFC3339、直接SQLで書き込まれた行は空白区切りの形式になることがある。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// FromRecord はリモートのレコードを内部のUserに変換する。
// どのような入力でも失敗せず、欠損フィールドは空文字または未設定になる。
func FromRecord(rec model.UserRecord) model.User {
	fullName := firstNonEmpty(deref(rec.FullName), metadataString(rec.UserMetadata, "full_name"))

	return model.User{
		ID:           rec.ID,
		Name:         firstNonEmpty(deref(rec.Name), fullName, metadataString(rec.UserMetadata, "name")),
		Email:        deref(rec.Email),
		Avatar:       firstNonEmpty(deref(rec.AvatarURL), metadataString(rec.UserMetadata, "avatar_url")),
		FullName:     fullName,
		CreatedAt:    parseTimestamp(deref(rec.CreatedAt)),
		LastSignInAt: parseTimestamp(deref(rec.LastSignInAt)),
		Role:         normalizeRole(deref(rec.Role)),
		Status:       decodeStatus(rec.Status),
	}
}

// FromRecords はレコードのスライスを順序を保ったまま変換する。
func FromRecords(recs []model.UserRecord) []model.User {
	users := make([]model.User, len(recs))
	for i, rec := range recs {
		users[i] = FromRecord(rec)
	}
	return users
}

// FromAuthUser は認証APIのアカウント情報を表示用プロフィールに変換する。
// 名前・メールが取れない場合は読み込み中の表示を返し、
// アバターが無い場合はIDの先頭4文字をシードにしたプレースホルダ画像を使う。
func FromAuthUser(u *model.AuthUser) model.Profile {
	if u == nil {
		u = &model.AuthUser{}
	}

	seed := u.ID
	if len(seed) > 4 {
		seed = seed[:4]
	}

	return model.Profile{
		ID:           u.ID,
		Name:         firstNonEmpty(metadataString(u.UserMetadata, "name"), "読み込み中..."),
		Email:        firstNonEmpty(u.Email, "loading@example.com"),
		Avatar:       firstNonEmpty(metadataString(u.UserMetadata, "avatar_url"), "https://picsum.photos/40/40?random="+seed),
		FullName:     metadataString(u.UserMetadata, "full_name"),
		CreatedAt:    u.CreatedAt,
		LastSignInAt: u.LastSignInAt,
		Provider:     metadataString(u.AppMetadata, "provider"),
	}
}

// normalizeRole は大文字小文字を正規化し、未知の値は未設定として扱う。
func normalizeRole(raw string) model.Role {
	r := model.Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return ""
	}
	return r
}

// decodeStatus はstatus列の実際の形を判定する。
// 真偽値なら true→active / false→inactive、文字列なら小文字化してそのまま保持する。
func decodeStatus(raw json.RawMessage) model.Status {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return ""
		}
		if b {
			return model.StatusActive
		}
		return model.StatusInactive
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return model.Status(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ""
	}
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
