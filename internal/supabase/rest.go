package supabase

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

const preferRepresentation = "return=representation"

func (c *Client) tablePath() string {
	return restPrefix + url.PathEscape(c.usersTable)
}

// rest はサービスロールキーでテーブルAPIを呼び出す。
func (c *Client) rest(ctx context.Context, r request) error {
	r.apiKey = c.serviceRoleKey
	r.bearer = c.serviceRoleKey
	if r.path == "" {
		r.path = c.tablePath()
	}
	return c.do(ctx, r)
}

func idQuery(id string) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+id)
	return q
}

// ListUsers は全ユーザーを作成日時の降順で取得する。
func (c *Client) ListUsers(ctx context.Context) ([]model.UserRecord, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	var recs []model.UserRecord
	if err := c.rest(ctx, request{op: "listUsers", method: http.MethodGet, query: q, out: &recs}); err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.UserRecord{}
	}
	return recs, nil
}

// GetUser はIDでユーザーを1件取得する。存在しない場合は nil, nil を返す。
func (c *Client) GetUser(ctx context.Context, id string) (*model.UserRecord, error) {
	q := idQuery(id)
	q.Set("select", "*")

	var recs []model.UserRecord
	if err := c.rest(ctx, request{op: "getUser", method: http.MethodGet, query: q, out: &recs}); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// CreateUser は認証APIで招待メールを送信し、同じIDでユーザーテーブルに行を作成する。
// 作成直後のユーザーは招待を受諾するまで inactive になる。
func (c *Client) CreateUser(ctx context.Context, input model.CreateUserInput) (*model.UserRecord, error) {
	role := input.Role
	if role == "" {
		role = model.RoleUser
	}

	invited, err := c.InviteUser(ctx, input.Email, map[string]any{
		"full_name": input.Name,
		"role":      string(role),
	})
	if err != nil {
		return nil, err
	}

	createdAt := invited.CreatedAt
	now := c.now().UTC().Format(time.RFC3339Nano)
	if createdAt == "" {
		createdAt = now
	}
	row := map[string]any{
		"id":              invited.ID,
		"email":           input.Email,
		"full_name":       input.Name,
		"role":            string(role),
		"status":          string(model.StatusInactive),
		"created_at":      createdAt,
		"updated_at":      now,
		"last_sign_in_at": nil,
	}

	var recs []model.UserRecord
	if err := c.rest(ctx, request{
		op:     "createUser",
		method: http.MethodPost,
		prefer: preferRepresentation,
		body:   row,
		out:    &recs,
	}); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &model.RemoteError{Op: "createUser", StatusCode: http.StatusOK, Message: "作成したユーザーが返されませんでした"}
	}
	return &recs[0], nil
}

// UpdateUser は指定されたフィールドのみを更新する。
func (c *Client) UpdateUser(ctx context.Context, id string, input model.UpdateUserInput) (*model.UserRecord, error) {
	patch := map[string]any{
		"updated_at": c.now().UTC().Format(time.RFC3339Nano),
	}
	if input.Name != nil {
		patch["full_name"] = *input.Name
	}
	if input.Email != nil {
		patch["email"] = *input.Email
	}
	if input.Role != nil {
		patch["role"] = string(*input.Role)
	}
	return c.patchOne(ctx, "updateUser", id, patch)
}

// SetUserStatus はユーザーの状態を更新する。
func (c *Client) SetUserStatus(ctx context.Context, id string, status model.Status) (*model.UserRecord, error) {
	return c.patchOne(ctx, "setUserStatus", id, map[string]any{
		"status":     string(status),
		"updated_at": c.now().UTC().Format(time.RFC3339Nano),
	})
}

// ActivateUser は招待を受諾したユーザーを active にする。
func (c *Client) ActivateUser(ctx context.Context, id string) error {
	_, err := c.SetUserStatus(ctx, id, model.StatusActive)
	return err
}

func (c *Client) patchOne(ctx context.Context, op, id string, patch map[string]any) (*model.UserRecord, error) {
	var recs []model.UserRecord
	if err := c.rest(ctx, request{
		op:     op,
		method: http.MethodPatch,
		query:  idQuery(id),
		prefer: preferRepresentation,
		body:   patch,
		out:    &recs,
	}); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &model.NotFoundError{Resource: "user", ID: id}
	}
	return &recs[0], nil
}

// DeleteUser はユーザーテーブルから行を削除する。
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.rest(ctx, request{op: "deleteUser", method: http.MethodDelete, query: idQuery(id)})
}
