package listview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/adminpanel/internal/model"
)

// 一括操作の種類。
const (
	BulkActionDelete = "delete"
	BulkActionStatus = "status"
)

// BulkResult は一括操作の結果。成功分はロールバックしない。
type BulkResult struct {
	Action    string
	Succeeded []string
	Failed    []string
	Errors    map[string]string // ID → リモートのエラーメッセージ
}

// SucceededCount は成功件数を返す。
func (r BulkResult) SucceededCount() int { return len(r.Succeeded) }

// FailedCount は失敗件数を返す。
func (r BulkResult) FailedCount() int { return len(r.Failed) }

// Summary は結果をユーザー向けの1行にまとめる。
func (r BulkResult) Summary() string {
	if r.FailedCount() == 0 {
		return fmt.Sprintf("%d件のユーザーを処理しました。", r.SucceededCount())
	}
	return fmt.Sprintf("%d件のユーザーを処理しましたが、%d件は失敗しました。", r.SucceededCount(), r.FailedCount())
}

// BulkDeletePrompt は一括削除の確認文言を返す。
func BulkDeletePrompt(count int) string {
	return fmt.Sprintf("%d件のユーザーを削除してもよろしいですか？", count)
}

// BulkStatusPrompt は一括状態変更の確認文言を返す。
func BulkStatusPrompt(count int, status model.Status) string {
	return fmt.Sprintf("%d件のユーザーを%sしてもよろしいですか？", count, statusVerb(status))
}

func emptySelectionError() error {
	verr := &model.ValidationError{}
	verr.Add("selection", "required", "少なくとも1件のユーザーを選択してください。")
	return verr
}

// BulkDelete は選択中の全ユーザーを削除する。
func (c *Controller) BulkDelete(ctx context.Context, confirmer Confirmer) (BulkResult, error) {
	ids := c.Selected()
	if len(ids) == 0 {
		return BulkResult{}, emptySelectionError()
	}
	if err := confirm(ctx, confirmer, BulkDeletePrompt(len(ids))); err != nil {
		return BulkResult{}, err
	}

	return c.fanOut(ctx, BulkActionDelete, ids, func(ctx context.Context, id string) error {
		return c.coll.Delete(ctx, id)
	}), nil
}

// BulkSetStatus は選択中の全ユーザーの状態を変更する。
func (c *Controller) BulkSetStatus(ctx context.Context, status model.Status, confirmer Confirmer) (BulkResult, error) {
	ids := c.Selected()
	if len(ids) == 0 {
		return BulkResult{}, emptySelectionError()
	}
	if err := confirm(ctx, confirmer, BulkStatusPrompt(len(ids), status)); err != nil {
		return BulkResult{}, err
	}

	return c.fanOut(ctx, BulkActionStatus, ids, func(ctx context.Context, id string) error {
		_, err := c.coll.SetStatus(ctx, id, status)
		return err
	}), nil
}

// fanOut はIDごとに1回ずつリモート呼び出しを並列に発行する。
// semaphoreパターンで同時実行数を制御し、一部が失敗しても残りは続行する。
// 成功したIDだけを選択から外す。
func (c *Controller) fanOut(ctx context.Context, action string, ids []string, fn func(ctx context.Context, id string) error) BulkResult {
	start := time.Now()
	result := BulkResult{Action: action, Errors: map[string]string{}}

	var mu sync.Mutex
	succeeded := make(map[string]bool, len(ids))
	failed := make(map[string]bool, len(ids))

	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := fn(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[id] = true
				result.Errors[id] = err.Error()
				c.observe(action, "failure")
				return
			}
			succeeded[id] = true
			c.observe(action, "success")
		}(id)
	}

	wg.Wait()

	// 結果は選択順に並べる
	for _, id := range ids {
		switch {
		case succeeded[id]:
			result.Succeeded = append(result.Succeeded, id)
		case failed[id]:
			result.Failed = append(result.Failed, id)
		}
	}

	if len(result.Succeeded) > 0 {
		c.unselect(result.Succeeded...)
	}

	c.logger.Info("一括操作が完了しました",
		slog.String("action", action),
		slog.Int("succeeded", result.SucceededCount()),
		slog.Int("failed", result.FailedCount()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result
}

func (c *Controller) observe(action, outcome string) {
	if c.observer != nil {
		c.observer.ObserveBulkItem(action, outcome)
	}
}
