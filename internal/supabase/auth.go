package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/hitoshi/adminpanel/internal/model"
)

// tokenResponse はGoTrueのトークン発行レスポンス。
// サインアップはメール確認の有無によってセッションまたはユーザーのみを返す。
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int             `json:"expires_in"`
	User         *model.AuthUser `json:"user"`

	model.AuthUser
}

func (t tokenResponse) toTokens() *model.AuthTokens {
	user := t.User
	if user == nil && t.ID != "" {
		u := t.AuthUser
		user = &u
	}
	return &model.AuthTokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
		User:         user,
	}
}

func (c *Client) auth(ctx context.Context, r request) error {
	if r.apiKey == "" {
		r.apiKey = c.anonKey
	}
	r.path = authPrefix + r.path
	return c.do(ctx, r)
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// メール確認が必要な場合、戻り値のトークンは空になる。
func (c *Client) SignUp(ctx context.Context, creds model.Credentials) (*model.AuthTokens, error) {
	var resp tokenResponse
	if err := c.auth(ctx, request{
		op:     "signUp",
		method: http.MethodPost,
		path:   "signup",
		body:   map[string]string{"email": creds.Email, "password": creds.Password},
		out:    &resp,
	}); err != nil {
		return nil, err
	}
	return resp.toTokens(), nil
}

// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
func (c *Client) SignInWithPassword(ctx context.Context, creds model.Credentials) (*model.AuthTokens, error) {
	q := url.Values{}
	q.Set("grant_type", "password")

	var resp tokenResponse
	if err := c.auth(ctx, request{
		op:     "signIn",
		method: http.MethodPost,
		path:   "token",
		query:  q,
		body:   map[string]string{"email": creds.Email, "password": creds.Password},
		out:    &resp,
	}); err != nil {
		return nil, err
	}
	return resp.toTokens(), nil
}

// RefreshSession はリフレッシュトークンでセッションを更新する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthTokens, error) {
	q := url.Values{}
	q.Set("grant_type", "refresh_token")

	var resp tokenResponse
	if err := c.auth(ctx, request{
		op:     "refreshSession",
		method: http.MethodPost,
		path:   "token",
		query:  q,
		body:   map[string]string{"refresh_token": refreshToken},
		out:    &resp,
	}); err != nil {
		return nil, err
	}
	return resp.toTokens(), nil
}

// SignOut はアクセストークンを失効させる。既に失効している場合も成功扱いにする。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.auth(ctx, request{
		op:      "signOut",
		method:  http.MethodPost,
		path:    "logout",
		bearer:  accessToken,
		allowed: []int{http.StatusUnauthorized, http.StatusNotFound},
	})
}

// GetAuthUser はアクセストークンに対応するアカウント情報を取得する。
func (c *Client) GetAuthUser(ctx context.Context, accessToken string) (*model.AuthUser, error) {
	var u model.AuthUser
	if err := c.auth(ctx, request{
		op:     "getAuthUser",
		method: http.MethodGet,
		path:   "user",
		bearer: accessToken,
		out:    &u,
	}); err != nil {
		return nil, err
	}
	return &u, nil
}

// SetSession はURLで受け取ったトークンからセッションを確立する。
// アクセストークンが拒否された場合はリフレッシュトークンで更新を試みる。
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*model.AuthTokens, error) {
	u, err := c.GetAuthUser(ctx, accessToken)
	if err == nil {
		return &model.AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken, User: u}, nil
	}

	var re *model.RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusUnauthorized || refreshToken == "" {
		return nil, err
	}

	c.logger.Info("アクセストークンが拒否されたためセッションを更新します")
	return c.RefreshSession(ctx, refreshToken)
}

// InviteUser は招待メールを送信し、作成された認証アカウントを返す。
func (c *Client) InviteUser(ctx context.Context, email string, data map[string]any) (*model.AuthUser, error) {
	q := url.Values{}
	q.Set("redirect_to", c.CallbackURL("/auth/callback"))

	var u model.AuthUser
	if err := c.auth(ctx, request{
		op:     "inviteUser",
		method: http.MethodPost,
		path:   "invite",
		query:  q,
		apiKey: c.serviceRoleKey,
		bearer: c.serviceRoleKey,
		body:   map[string]any{"email": email, "data": data},
		out:    &u,
	}); err != nil {
		return nil, err
	}
	return &u, nil
}

// AuthorizeURL はOAuthプロバイダのログイン開始URLを返す。
// ブラウザをこのURLへリダイレクトするとプロバイダの同意画面に遷移する。
func (c *Client) AuthorizeURL(provider, redirectTo string, extra url.Values) string {
	q := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	return c.baseURL + authPrefix + "authorize?" + q.Encode()
}
