package validation

import (
	"errors"
	"testing"

	"github.com/hitoshi/adminpanel/internal/model"
)

func fieldRules(t *testing.T, err error) map[string]string {
	t.Helper()
	if err == nil {
		return map[string]string{}
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	rules := map[string]string{}
	for _, f := range verr.Fields {
		rules[f.Field] = f.Rule
	}
	return rules
}

func TestIsEmail(t *testing.T) {
	valid := []string{"a@example.com", "first.last+tag@sub.example.org", "x_y%z@domain.io"}
	invalid := []string{"", "plain", "a@b", "a@example.c", "a@example.technology", "a b@example.com"}

	for _, s := range valid {
		if !IsEmail(s) {
			t.Errorf("IsEmail(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if IsEmail(s) {
			t.Errorf("IsEmail(%q) = true", s)
		}
	}
}

func TestIsStrongPassword(t *testing.T) {
	tests := map[string]bool{
		"abc123":   true,
		"ABCdef9":  true,
		"abcdef":   false,
		"123456":   false,
		"ab12":     false,
		"abc 123":  false,
		"abc123!":  false,
		"パスワード123": false,
	}
	for pw, want := range tests {
		if got := IsStrongPassword(pw); got != want {
			t.Errorf("IsStrongPassword(%q) = %v, want %v", pw, got, want)
		}
	}
}

func TestIsNameAndPhone(t *testing.T) {
	if !IsName("José María") || IsName("R2D2") || IsName("") {
		t.Error("IsName mismatch")
	}
	if !IsPhone("+34123456789") || !IsPhone("1234567") || IsPhone("123456") || IsPhone("12-345-678") {
		t.Error("IsPhone mismatch")
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds model.Credentials
		want  map[string]string
	}{
		{"正常", model.Credentials{Email: "admin@example.com", Password: "secret"}, map[string]string{}},
		{"空", model.Credentials{}, map[string]string{"email": RuleRequired, "password": RuleRequired}},
		{"形式不正", model.Credentials{Email: "admin@", Password: "12345"}, map[string]string{"email": RulePattern, "password": RuleMinLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldRules(t, ValidateCredentials(tt.creds))
			if len(got) != len(tt.want) {
				t.Fatalf("rules = %v, want %v", got, tt.want)
			}
			for field, rule := range tt.want {
				if got[field] != rule {
					t.Errorf("%s: rule = %q, want %q", field, got[field], rule)
				}
			}
		})
	}
}

func TestValidateUserForm(t *testing.T) {
	if err := ValidateUserForm(model.CreateUserInput{Email: "n@example.com", Name: "Ana", Role: model.RoleUser}); err != nil {
		t.Errorf("valid form rejected: %v", err)
	}

	got := fieldRules(t, ValidateUserForm(model.CreateUserInput{Email: "bad", Name: "A"}))
	want := map[string]string{"name": RuleMinLength, "email": RuleEmail, "role": RuleRequired}
	for field, rule := range want {
		if got[field] != rule {
			t.Errorf("%s: rule = %q, want %q", field, got[field], rule)
		}
	}

	got = fieldRules(t, ValidateUserForm(model.CreateUserInput{Email: "n@example.com", Name: "Ana", Role: model.RoleAll}))
	if got["role"] != RuleOneOf {
		t.Errorf("role all should be rejected, got %v", got)
	}
}

func TestValidateUserPatch(t *testing.T) {
	if err := ValidateUserPatch(model.UpdateUserInput{}); err != nil {
		t.Errorf("empty patch rejected: %v", err)
	}

	empty := ""
	role := model.Role("owner")
	got := fieldRules(t, ValidateUserPatch(model.UpdateUserInput{Name: &empty, Role: &role}))
	if got["name"] != RuleRequired || got["role"] != RuleOneOf {
		t.Errorf("rules = %v", got)
	}
	if _, ok := got["email"]; ok {
		t.Error("email was not set and must not be validated")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidateCredentials(model.Credentials{Email: "x@example.com"})
	if err == nil || err.Error() != "validation failed: password: この項目は必須です" {
		t.Errorf("message = %v", err)
	}
}
