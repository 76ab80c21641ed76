// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/adminpanel/internal/auth"
	"github.com/hitoshi/adminpanel/internal/listview"
	"github.com/hitoshi/adminpanel/internal/middleware"
	"github.com/hitoshi/adminpanel/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 1 << 20

// fieldErrorResponse はフォーム項目ごとの検証エラー。
type fieldErrorResponse struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// validationErrorResponse は検証エラーのレスポンス。統一フォーマットに項目別エラーを加える。
type validationErrorResponse struct {
	middleware.ErrorResponseBody
	Fields []fieldErrorResponse `json:"fields"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse はAPIErrorを統一フォーマットで書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, status int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, status, apiErr)
}

// decodeJSON はリクエストボディをデコードする。
// allowEmpty が true の場合、空ボディはゼロ値のまま成功とする。
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// handleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var confirmErr *listview.ConfirmationError
	if errors.As(err, &confirmErr) {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewConfirmationRequiredError(confirmErr.Prompt))
		return
	}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeValidationError(w, verr)
		return
	}

	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(nf.ID))
		return
	}

	var loadErr *model.LoadError
	if errors.As(err, &loadErr) {
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewLoadFailedError(loadErr.Error()))
		return
	}

	var remoteErr *model.RemoteError
	if errors.As(err, &remoteErr) {
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewRemoteFailedError(remoteErr.Error()))
		return
	}

	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidToken):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	case errors.Is(err, auth.ErrMissingTokens):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingTokensError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("unexpected service error",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// writeValidationError は検証エラーを書き込む。一括操作の未選択は専用コードにする。
func writeValidationError(w http.ResponseWriter, verr *model.ValidationError) {
	for _, f := range verr.Fields {
		if f.Field == "selection" {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewEmptySelectionError())
			return
		}
	}

	messages := make([]string, 0, len(verr.Fields))
	fields := make([]fieldErrorResponse, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		messages = append(messages, f.Message)
		fields = append(fields, fieldErrorResponse{Field: f.Field, Rule: f.Rule, Message: f.Message})
	}
	apiErr := model.NewValidationError(strings.Join(messages, " "))
	middleware.WriteErrorBody(w, http.StatusBadRequest, validationErrorResponse{
		ErrorResponseBody: middleware.NewErrorResponseBody(apiErr),
		Fields:            fields,
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードからHTTPステータスコードを決定する。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeEmptySelection, model.ErrCodeMissingTokens:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeConfirmationRequired:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeRemoteFailed, model.ErrCodeLoadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
