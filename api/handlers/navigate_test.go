package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow"
	"github.com/BaSui01/browserflow/api"
	"github.com/BaSui01/browserflow/types"
)

// fakeFetcher 记录收到的参数并返回预设结果
type fakeFetcher struct {
	url  string
	opts browserflow.FetchOptions
	res  *browserflow.FetchResult
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, opts browserflow.FetchOptions) (*browserflow.FetchResult, error) {
	f.url, f.opts = url, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeFetcher) NavigationDefaults() types.NavigationOptions {
	return types.NavigationOptions{}.WithDefaults()
}

func (f *fakeFetcher) LaunchDefaults() types.LaunchOptions {
	return types.DefaultLaunchOptions()
}

func postNavigate(t *testing.T, h *NavigateHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/navigate", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h.HandleNavigate(w, r)
	return w
}

// =============================================================================
// 🧪 NavigateHandler 测试
// =============================================================================

func TestNavigateHandler_Success(t *testing.T) {
	f := &fakeFetcher{res: &browserflow.FetchResult{
		URL:        "https://example.com",
		FinalURL:   "https://example.com/",
		Title:      "Example",
		Content:    "<html></html>",
		Attempts:   2,
		InstanceID: "default",
		Duration:   1500 * time.Millisecond,
	}}
	h := NewNavigateHandler(f, zap.NewNop())

	w := postNavigate(t, h, `{"url":"https://example.com","session":"acct","max_retries":3,"timeout":"10s","wait_until":["domcontentloaded"],"headers":{"X-Test":"1"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool                 `json:"success"`
		Data    api.NavigateResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Example", resp.Data.Title)
	assert.Equal(t, "<html></html>", resp.Data.Content)
	assert.Equal(t, 2, resp.Data.Attempts)
	assert.Equal(t, int64(1500), resp.Data.DurationMs)

	assert.Equal(t, "https://example.com", f.url)
	assert.Equal(t, "acct", f.opts.Session)
	require.NotNil(t, f.opts.Navigation)
	assert.Equal(t, 3, f.opts.Navigation.MaxRetries)
	assert.Equal(t, 10*time.Second, f.opts.Navigation.Timeout)
	assert.Equal(t, []types.WaitUntil{types.WaitDOMContentLoaded}, f.opts.Navigation.WaitUntil)
	assert.Equal(t, types.DefaultRetryDelay, f.opts.Navigation.RetryDelay)
	assert.Equal(t, "1", f.opts.Navigation.Headers["X-Test"])
	assert.Nil(t, f.opts.Launch)
}

func TestNavigateHandler_InstanceAndContentToggle(t *testing.T) {
	f := &fakeFetcher{res: &browserflow.FetchResult{Content: "big"}}
	h := NewNavigateHandler(f, nil)

	w := postNavigate(t, h, `{"url":"https://example.com","instance_id":"scraper","include_content":false,"max_retries":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "big")

	require.NotNil(t, f.opts.Launch)
	assert.Equal(t, "scraper", f.opts.Launch.InstanceID)
	assert.True(t, f.opts.Navigation.NoRetry)
}

func TestNavigateHandler_ZeroDurationsDisable(t *testing.T) {
	f := &fakeFetcher{res: &browserflow.FetchResult{}}
	h := NewNavigateHandler(f, nil)

	w := postNavigate(t, h, `{"url":"https://example.com","timeout":"0s","retry_delay":"0s"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	nav := f.opts.Navigation.WithDefaults()
	assert.True(t, nav.NoTimeout)
	assert.Zero(t, nav.Timeout)
	assert.True(t, nav.NoRetryDelay)
	assert.Zero(t, nav.RetryDelay)
}

func TestNavigateHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{}`},
		{"relative url", `{"url":"/path"}`},
		{"unsupported scheme", `{"url":"file:///etc/passwd"}`},
		{"bad wait_until", `{"url":"https://a.example","wait_until":["idle"]}`},
		{"bad timeout", `{"url":"https://a.example","timeout":"soon"}`},
		{"negative retry_delay", `{"url":"https://a.example","retry_delay":"-1s"}`},
		{"negative retries", `{"url":"https://a.example","max_retries":-1}`},
		{"unknown field", `{"url":"https://a.example","retries":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			w := postNavigate(t, NewNavigateHandler(f, nil), tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), string(types.ErrInvalidRequest))
			assert.Empty(t, f.url, "fetch must not run")
		})
	}
}

func TestNavigateHandler_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   types.ErrorCode
	}{
		{"navigation", types.WrapError(types.ErrNavigationFailed, "Failed to navigate to x", errors.New("timeout")), http.StatusBadGateway, types.ErrNavigationFailed},
		{"launch", types.WrapError(types.ErrLaunchFailed, "Failed to launch browser", errors.New("no chrome")), http.StatusServiceUnavailable, types.ErrLaunchFailed},
		{"closed", browserflow.ErrClosed, http.StatusInternalServerError, types.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postNavigate(t, NewNavigateHandler(&fakeFetcher{err: tt.err}, nil), `{"url":"https://example.com"}`)
			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
}
