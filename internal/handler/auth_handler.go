package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/adminpanel/internal/auth"
	"github.com/hitoshi/adminpanel/internal/middleware"
	"github.com/hitoshi/adminpanel/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error)
	SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	CurrentSession(ctx context.Context, sessionID string) model.SessionState
	CurrentUser(ctx context.Context, sessionID string) (model.Profile, error)
	OAuthLoginURL(provider string) string
	HandleCallback(ctx context.Context, accessToken, refreshToken string, activate bool) (*model.Session, error)
}

// ViewDropper はセッションに紐づく一覧画面の状態を破棄する。
type ViewDropper interface {
	Drop(sessionID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインイン・サインアップ・招待コールバックのHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	views     ViewDropper
	config    AuthHandlerConfig
	presenter presenter
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。views は nil でもよい。
func NewAuthHandler(service AuthServiceInterface, views ViewDropper, sanitizer NameSanitizer, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:   service,
		views:     views,
		config:    config,
		presenter: presenter{sanitizer: sanitizer},
		logger:    logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Redirect string `json:"redirect"`
}

type signUpResponse struct {
	ConfirmationRequired bool   `json:"confirmation_required"`
	Redirect             string `json:"redirect,omitempty"`
}

type sessionStateResponse struct {
	Present bool `json:"present"`
}

type pageResponse struct {
	Page string `json:"page"`
}

// SignInPage はサインイン画面を返す。
// GET /auth/sign-in
func (h *AuthHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pageResponse{Page: "sign-in"})
}

// SignUpPage はサインアップ画面を返す。
// GET /auth/sign-up
func (h *AuthHandler) SignUpPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pageResponse{Page: "sign-up"})
}

// SignIn はメールアドレスとパスワードでログインする。
// POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	session, err := h.service.SignIn(r.Context(), model.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.handleAuthError(w, r, "sign in", err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, signInResponse{Redirect: middleware.DashboardPath})
}

// SignUp はアカウントを登録する。メール確認待ちの場合はセッションを作らない。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	session, err := h.service.SignUp(r.Context(), model.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.handleAuthError(w, r, "sign up", err)
		return
	}

	if session == nil {
		writeJSON(w, http.StatusAccepted, signUpResponse{ConfirmationRequired: true})
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusCreated, signUpResponse{Redirect: middleware.DashboardPath})
}

// GoogleLogin はGoogleのOAuthフローへリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.service.OAuthLoginURL("google"), http.StatusTemporaryRedirect)
}

// Callback は招待リンクおよびOAuthのコールバックを処理する。
// GET /auth/callback?access_token=xxx&refresh_token=yyy&type=invite
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error_description"); errParam != "" {
		h.logger.Warn("auth callback returned error", slog.String("error", errParam))
		h.redirectToSignIn(w, r, model.ErrCodeUnauthorized)
		return
	}

	activate := q.Get("type") == "invite"
	session, err := h.service.HandleCallback(r.Context(), q.Get("access_token"), q.Get("refresh_token"), activate)
	if err != nil {
		code := model.ErrCodeUnauthorized
		var remoteErr *model.RemoteError
		switch {
		case errors.As(err, &remoteErr):
			code = model.ErrCodeRemoteFailed
		case errors.Is(err, auth.ErrMissingTokens):
			code = model.ErrCodeMissingTokens
		}
		h.logger.Error("auth callback failed", slog.String("error", err.Error()))
		h.redirectToSignIn(w, r, code)
		return
	}

	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, middleware.DashboardPath, http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if signOutErr := h.service.SignOut(r.Context(), cookie.Value); signOutErr != nil {
			// ローカルのセッションは削除済みなのでCookieもクリアする
			h.logger.Error("failed to sign out", slog.String("error", signOutErr.Error()))
		}
		if h.views != nil {
			h.views.Drop(cookie.Value)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
}

// Session はセッションの有無を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	state := model.SessionState{}
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		state = h.service.CurrentSession(r.Context(), cookie.Value)
	}
	writeJSON(w, http.StatusOK, sessionStateResponse{Present: state.Present})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.CurrentUser(r.Context(), cookie.Value)
	if err != nil {
		h.handleAuthError(w, r, "current user", err)
		return
	}

	writeJSON(w, http.StatusOK, h.presenter.profile(profile))
}

// handleAuthError は認証系のエラーを変換する。
// リモートが4xxで拒否した場合は文言をそのまま401で返す。
func (h *AuthHandler) handleAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var remoteErr *model.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.StatusCode >= 400 && remoteErr.StatusCode < 500 {
		h.logger.Info(op+" rejected",
			slog.Int("status", remoteErr.StatusCode),
			slog.String("error", remoteErr.Error()),
		)
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  remoteErr.Error(),
			Category: "auth",
			Action:   "入力内容を確認して再度お試しください。",
		})
		return
	}
	handleServiceError(w, r, err)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectToSignIn(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, middleware.SignInPath+"?error="+url.QueryEscape(code), http.StatusFound)
}
