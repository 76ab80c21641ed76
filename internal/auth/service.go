// Package auth は管理画面のログイン・サインアップ・ログアウトと、
// BaaSのトークンを保持するローカルセッションの管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
	"github.com/hitoshi/adminpanel/internal/repository"
	"github.com/hitoshi/adminpanel/internal/user"
	"github.com/hitoshi/adminpanel/internal/validation"
)

var (
	// ErrNoSession はセッションが存在しない、または期限切れであることを表す。
	ErrNoSession = errors.New("session not found or expired")
	// ErrMissingTokens はコールバックにアクセストークンが含まれないことを表す。
	ErrMissingTokens = errors.New("access token is missing")
)

// Remote はBaaSの認証APIのうち、このサービスが使う操作。
type Remote interface {
	SignUp(ctx context.Context, creds model.Credentials) (*model.AuthTokens, error)
	SignInWithPassword(ctx context.Context, creds model.Credentials) (*model.AuthTokens, error)
	SignOut(ctx context.Context, accessToken string) error
	GetAuthUser(ctx context.Context, accessToken string) (*model.AuthUser, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.AuthTokens, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*model.AuthTokens, error)
	ActivateUser(ctx context.Context, id string) error
	AuthorizeURL(provider, redirectTo string, extra url.Values) string
	CallbackURL(path string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int    // セッション有効期間（秒）
	JWTSecret     string // 空の場合はトークンの署名検証を行わない
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	remote      Remote
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(remote Remote, sessionRepo repository.SessionRepository, config ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		remote:      remote,
		sessionRepo: sessionRepo,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// SignIn はメールアドレスとパスワードでログインし、ローカルセッションを発行する。
// 入力が不正な場合はリモートを呼ばずに *model.ValidationError を返す。
func (s *Service) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	if err := validation.ValidateCredentials(creds); err != nil {
		return nil, err
	}

	tokens, err := s.remote.SignInWithPassword(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	session, err := s.createSession(ctx, tokens)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ログインしました", slog.String("user_id", session.UserID))
	return session, nil
}

// SignUp はアカウントを作成する。メール確認が必要な場合はセッションを発行せず nil を返す。
func (s *Service) SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	if err := validation.ValidateCredentials(creds); err != nil {
		return nil, err
	}

	tokens, err := s.remote.SignUp(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	if tokens.AccessToken == "" {
		s.logger.Info("サインアップしました。メール確認待ちです", slog.String("email", creds.Email))
		return nil, nil
	}

	return s.createSession(ctx, tokens)
}

// SignOut はリモートのセッションを無効化し、ローカルセッションを破棄する。
// リモートの失敗に関わらずローカルセッションは削除する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	var remoteErr error
	if session != nil {
		remoteErr = s.remote.SignOut(ctx, session.AccessToken)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if remoteErr != nil {
		s.logger.Warn("リモートのログアウトに失敗しました", slog.String("error", remoteErr.Error()))
		return fmt.Errorf("failed to sign out: %w", remoteErr)
	}

	s.logger.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// CurrentSession はルートガード用にセッションの有無を返す。
// 参照に失敗した場合はセッション無しとして扱う。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) model.SessionState {
	if sessionID == "" {
		return model.SessionState{}
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("セッションの取得に失敗しました", slog.String("error", err.Error()))
		return model.SessionState{}
	}
	return model.SessionState{Present: session != nil}
}

// Session はセッションを取得する。存在しない場合は ErrNoSession を返す。
func (s *Service) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return session, nil
}

// CurrentUser はログイン中のアカウントのプロフィールを返す。
// アクセストークンが失効していればリフレッシュしてセッションを更新する。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (model.Profile, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return model.Profile{}, err
	}

	u, err := s.remote.GetAuthUser(ctx, session.AccessToken)
	if err != nil && isUnauthorized(err) && session.RefreshToken != "" {
		u, err = s.refresh(ctx, session)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return user.FromAuthUser(u), nil
}

func (s *Service) refresh(ctx context.Context, session *model.Session) (*model.AuthUser, error) {
	tokens, err := s.remote.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.UpdateTokens(ctx, session.ID, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return nil, err
	}
	s.logger.Info("セッションを更新しました", slog.String("user_id", session.UserID))
	if tokens.User != nil {
		return tokens.User, nil
	}
	return s.remote.GetAuthUser(ctx, tokens.AccessToken)
}

// OAuthLoginURL はOAuthプロバイダのログイン開始URLを返す。
// 毎回アカウント選択画面を表示させる。
func (s *Service) OAuthLoginURL(provider string) string {
	extra := url.Values{}
	extra.Set("prompt", "select_account")
	return s.remote.AuthorizeURL(provider, s.remote.CallbackURL("/auth/callback"), extra)
}

// HandleCallback はURLで受け取ったトークンでセッションを確立する。
// 招待経由（activate=true）の場合はユーザーテーブルの状態を active にする。
// 有効化に失敗してもログイン自体は成功として扱う。
func (s *Service) HandleCallback(ctx context.Context, accessToken, refreshToken string, activate bool) (*model.Session, error) {
	if accessToken == "" {
		return nil, ErrMissingTokens
	}

	tokens, err := s.remote.SetSession(ctx, accessToken, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	session, err := s.createSession(ctx, tokens)
	if err != nil {
		return nil, err
	}

	if activate {
		if err := s.remote.ActivateUser(ctx, session.UserID); err != nil {
			s.logger.Error("招待ユーザーの有効化に失敗しました",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("招待ユーザーを有効化しました", slog.String("user_id", session.UserID))
		}
	}
	return session, nil
}

// createSession はトークンからアカウントを特定し、セッションを作成して永続化する。
func (s *Service) createSession(ctx context.Context, tokens *model.AuthTokens) (*model.Session, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, ErrMissingTokens
	}

	var userID, email string
	if tokens.User != nil {
		userID, email = tokens.User.ID, tokens.User.Email
	}

	if s.config.JWTSecret != "" {
		claims, err := ParseToken(s.config.JWTSecret, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		if userID == "" {
			userID = claims.Subject
		}
		if email == "" {
			email = claims.Email
		}
	}
	if userID == "" {
		return nil, fmt.Errorf("failed to create session: %w", ErrInvalidToken)
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:           sessionID,
		UserID:       userID,
		Email:        email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:    now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func isUnauthorized(err error) bool {
	var re *model.RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusUnauthorized
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
