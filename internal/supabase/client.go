// Package supabase はBaaS（PostgRESTのテーブルAPIとGoTrueの認証API）のクライアントを提供する。
// 管理画面の永続化と認証はすべてこのクライアント経由でリモートに委譲する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

const (
	restPrefix = "/rest/v1/"
	authPrefix = "/auth/v1/"

	// maxResponseSize はリモートのレスポンスボディの最大サイズ（10MB）。
	maxResponseSize = 10 * 1024 * 1024

	defaultUsersTable = "users"
)

// Config はクライアントの接続設定。
type Config struct {
	BaseURL        string // 例: https://xyz.supabase.co
	AnonKey        string // 認証APIの公開キー
	ServiceRoleKey string // テーブル操作と招待に使う管理者キー
	UsersTable     string // ユーザーテーブル名。空なら users
	RedirectBase   string // 招待・OAuthのコールバックURLの基点
}

// Observer はリモート呼び出しの計測インターフェース。
type Observer interface {
	ObserveRemoteCall(op, outcome string, duration time.Duration)
}

// Client はBaaSのクライアント。
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	observer       Observer
	baseURL        string
	anonKey        string
	serviceRoleKey string
	usersTable     string
	redirectBase   string
	now            func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// observer は nil でもよい。
func NewClient(httpClient *http.Client, cfg Config, observer Observer, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	table := cfg.UsersTable
	if table == "" {
		table = defaultUsersTable
	}
	return &Client{
		httpClient:     httpClient,
		logger:         logger,
		observer:       observer,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		usersTable:     table,
		redirectBase:   strings.TrimRight(cfg.RedirectBase, "/"),
		now:            time.Now,
	}
}

// request は1回分のリモート呼び出し。
type request struct {
	op      string
	method  string
	path    string
	query   url.Values
	apiKey  string
	bearer  string
	prefer  string
	body    any
	out     any
	allowed []int // 2xx以外で成功扱いにするステータス
}

// do はリクエストを実行し、2xxならレスポンスを out にデコードする。
// それ以外は *model.RemoteError を返す。
func (c *Client) do(ctx context.Context, r request) error {
	start := time.Now()
	err := c.send(ctx, r)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		c.logger.Error("BaaSの呼び出しに失敗しました",
			slog.String("op", r.op),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
	}
	if c.observer != nil {
		c.observer.ObserveRemoteCall(r.op, outcome, time.Since(start))
	}
	return err
}

func (c *Client) send(ctx context.Context, r request) error {
	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return &model.RemoteError{Op: r.op, Message: "リクエストのエンコードに失敗しました", Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return &model.RemoteError{Op: r.op, Message: "リクエストの作成に失敗しました", Err: err}
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Accept", "application/json")
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.RemoteError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &model.RemoteError{Op: r.op, StatusCode: resp.StatusCode, Message: "レスポンスの読み取りに失敗しました", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		for _, s := range r.allowed {
			if resp.StatusCode == s {
				return nil
			}
		}
		return &model.RemoteError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(data, resp.StatusCode),
		}
	}

	if r.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, r.out); err != nil {
		return &model.RemoteError{Op: r.op, StatusCode: resp.StatusCode, Message: "レスポンスのパースに失敗しました", Err: err}
	}
	return nil
}

// remoteMessage はエラーレスポンスからサービスの文言を取り出す。
// PostgRESTは message、GoTrueは msg / error_description / error を返す。
func remoteMessage(data []byte, status int) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"message", "msg", "error_description", "error"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) <= 200 && !strings.HasPrefix(text, "{") {
		return text
	}
	return fmt.Sprintf("remote service returned status %d", status)
}

// CallbackURL は招待・OAuthのリダイレクト先URLを返す。
func (c *Client) CallbackURL(path string) string {
	return c.redirectBase + path
}
