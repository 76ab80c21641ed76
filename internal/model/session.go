package model

import "time"

// Session は管理画面のログインセッションを表す。
// ブラウザにはIDのみをCookieで渡し、BaaSのトークンはサーバー側に保持する。
type Session struct {
	ID           string
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// SessionState はルートガードが参照するセッション有無の結果。
type SessionState struct {
	Present bool
}

// Credentials はメールアドレスとパスワードによる認証情報。
type Credentials struct {
	Email    string
	Password string
}

// AuthTokens はBaaSの認証APIが発行するトークン一式。
type AuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	User         *AuthUser
}
