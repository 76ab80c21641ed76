package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はユーザー名などの表示用テキストからマークアップを除去する。
// bluemondayのStrictPolicyは全タグを除去し、エスケープ済みの文字列を返すため、
// 平文に戻してから前後の空白を取り除く。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去した平文を返す。
func (s *NameSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// SanitizePtr はnilを保ったままSanitizeを適用する。
func (s *NameSanitizer) SanitizePtr(text *string) *string {
	if text == nil {
		return nil
	}
	v := s.Sanitize(*text)
	return &v
}
