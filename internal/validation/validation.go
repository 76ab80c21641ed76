// Package validation はログイン・サインアップ・ユーザー編集フォームの入力検証を提供する。
// 検証エラーはリモートに送信する前にローカルで返す。
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/adminpanel/internal/model"
)

// 入力パターン
var (
	// EmailRegex はログイン・サインアップで使う厳格なメールアドレス形式。
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,4}$`)

	// looseEmailRegex はユーザー編集フォームで使う緩いメールアドレス形式。
	looseEmailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+$`)

	// NameRegex はラテン文字（アクセント付きを含む）と空白のみからなる名前。
	NameRegex = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s]+$`)

	// PhoneRegex は先頭に+を許す7〜15桁の電話番号。
	PhoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

const (
	// PasswordMinLength はパスワードの最小文字数。
	PasswordMinLength = 6
	// NameMinLength はユーザー名の最小文字数。
	NameMinLength = 2
)

// 検証ルール名
const (
	RuleRequired  = "required"
	RuleMinLength = "minlength"
	RulePattern   = "pattern"
	RuleEmail     = "email"
	RuleOneOf     = "oneof"
)

// IsEmail はログイン用のメールアドレス形式かを返す。
func IsEmail(s string) bool {
	return EmailRegex.MatchString(s)
}

// IsStrongPassword は英字と数字をそれぞれ1文字以上含み、英数字のみで6文字以上かを返す。
func IsStrongPassword(s string) bool {
	if len(s) < PasswordMinLength {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			return false
		}
	}
	return hasLetter && hasDigit
}

// IsName は名前の形式かを返す。
func IsName(s string) bool {
	return NameRegex.MatchString(s)
}

// IsPhone は電話番号の形式かを返す。
func IsPhone(s string) bool {
	return PhoneRegex.MatchString(s)
}

// ValidateCredentials はログイン・サインアップフォームを検証する。
// エラーが無ければ nil、あれば *model.ValidationError を返す。
func ValidateCredentials(c model.Credentials) error {
	verr := &model.ValidationError{}

	email := strings.TrimSpace(c.Email)
	switch {
	case email == "":
		verr.Add("email", RuleRequired, requiredMessage())
	case !IsEmail(email):
		verr.Add("email", RulePattern, "メールアドレスの形式が正しくありません")
	}

	switch {
	case c.Password == "":
		verr.Add("password", RuleRequired, requiredMessage())
	case utf8.RuneCountInString(c.Password) < PasswordMinLength:
		verr.Add("password", RuleMinLength, minLengthMessage(PasswordMinLength))
	}

	return result(verr)
}

// ValidateUserForm はユーザー招待フォームを検証する。ロールは必須。
func ValidateUserForm(in model.CreateUserInput) error {
	verr := &model.ValidationError{}
	checkName(verr, in.Name)
	checkEmail(verr, in.Email)
	if in.Role == "" {
		verr.Add("role", RuleRequired, requiredMessage())
	} else {
		checkRole(verr, in.Role)
	}
	return result(verr)
}

// ValidateUserPatch はユーザー編集フォームを検証する。指定されたフィールドのみ検証する。
func ValidateUserPatch(in model.UpdateUserInput) error {
	verr := &model.ValidationError{}
	if in.Name != nil {
		checkName(verr, *in.Name)
	}
	if in.Email != nil {
		checkEmail(verr, *in.Email)
	}
	if in.Role != nil {
		checkRole(verr, *in.Role)
	}
	return result(verr)
}

func checkName(verr *model.ValidationError, name string) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		verr.Add("name", RuleRequired, requiredMessage())
	case utf8.RuneCountInString(name) < NameMinLength:
		verr.Add("name", RuleMinLength, minLengthMessage(NameMinLength))
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		verr.Add("name", RulePattern, "名前の形式が正しくありません")
	}
}

func checkEmail(verr *model.ValidationError, email string) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		verr.Add("email", RuleRequired, requiredMessage())
	case !looseEmailRegex.MatchString(email):
		verr.Add("email", RuleEmail, "メールアドレスの形式が正しくありません")
	}
}

func checkRole(verr *model.ValidationError, role model.Role) {
	if !role.Valid() {
		verr.Add("role", RuleOneOf, "ロールは admin, moderator, user のいずれかを指定してください")
	}
}

func result(verr *model.ValidationError) error {
	if verr.HasErrors() {
		return verr
	}
	return nil
}

func requiredMessage() string {
	return "この項目は必須です"
}

func minLengthMessage(n int) string {
	return fmt.Sprintf("%d文字以上で入力してください", n)
}
