package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// テスト環境ではDBに接続できないため、serve/worker/migrate はエラーで終了する。
func TestRun_CommandsFailWithoutDatabase(t *testing.T) {
	for _, args := range [][]string{{"serve"}, {"worker"}, {"migrate"}, {}} {
		t.Run(string(ParseCommand(args)), func(t *testing.T) {
			restoreDefaultLogger(t)
			setTestEnv(t)

			var buf bytes.Buffer
			if err := Run(&buf, args); err == nil {
				t.Fatalf("Run(%v) should fail without a database", args)
			}
		})
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)
	clearRequiredEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func healthServerPort(t *testing.T, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	return u.Port()
}

func TestRun_Healthcheck(t *testing.T) {
	clearRequiredEnv(t)
	t.Setenv("SERVER_PORT", healthServerPort(t, http.StatusOK))

	if err := Run(&bytes.Buffer{}, []string{"healthcheck"}); err != nil {
		t.Errorf("healthcheck should succeed without full config: %v", err)
	}
}

func TestRun_Healthcheck_Unhealthy(t *testing.T) {
	t.Setenv("SERVER_PORT", healthServerPort(t, http.StatusServiceUnavailable))

	if err := Run(&bytes.Buffer{}, []string{"healthcheck"}); err == nil {
		t.Error("healthcheck should fail on 503")
	}
}
