package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow"
	"github.com/BaSui01/browserflow/api"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// 🧭 导航 Handler
// =============================================================================

// Fetcher 是 NavigateHandler 依赖的 App 能力
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts browserflow.FetchOptions) (*browserflow.FetchResult, error)
	NavigationDefaults() types.NavigationOptions
	LaunchDefaults() types.LaunchOptions
}

// NavigateHandler 处理 POST /api/v1/navigate
type NavigateHandler struct {
	app    Fetcher
	logger *zap.Logger
}

// NewNavigateHandler 创建导航处理器
func NewNavigateHandler(app Fetcher, logger *zap.Logger) *NavigateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavigateHandler{app: app, logger: logger.With(zap.String("handler", "navigate"))}
}

// HandleNavigate 打开页面、带重试导航并返回内容
// @Summary 导航到 URL
// @Tags 导航
// @Accept json
// @Produce json
// @Param request body api.NavigateRequest true "导航请求"
// @Success 200 {object} api.Response{data=api.NavigateResponse}
// @Failure 400 {object} api.Response "无效请求"
// @Failure 502 {object} api.Response "导航失败"
// @Router /api/v1/navigate [post]
func (h *NavigateHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	var req api.NavigateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	opts, err := h.fetchOptions(req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	res, ferr := h.app.Fetch(r.Context(), req.URL, opts)
	if ferr != nil {
		WriteError(w, r, AsError(ferr), h.logger)
		return
	}

	resp := api.NavigateResponse{
		URL:        res.URL,
		FinalURL:   res.FinalURL,
		Title:      res.Title,
		Attempts:   res.Attempts,
		InstanceID: res.InstanceID,
		DurationMs: res.Duration.Milliseconds(),
	}
	if req.IncludeContent == nil || *req.IncludeContent {
		resp.Content = res.Content
	}
	WriteSuccess(w, r, resp)
}

// fetchOptions 在服务端默认值上叠加请求参数
func (h *NavigateHandler) fetchOptions(req api.NavigateRequest) (browserflow.FetchOptions, *types.Error) {
	var opts browserflow.FetchOptions
	if err := validateURL(req.URL); err != nil {
		return opts, err
	}

	nav := h.app.NavigationDefaults()
	if len(req.WaitUntil) > 0 {
		nav.WaitUntil = make([]types.WaitUntil, 0, len(req.WaitUntil))
		for _, wu := range req.WaitUntil {
			if !types.WaitUntil(wu).Valid() {
				return opts, types.NewError(types.ErrInvalidRequest, "unsupported wait_until: "+wu)
			}
			nav.WaitUntil = append(nav.WaitUntil, types.WaitUntil(wu))
		}
	}
	var err *types.Error
	if nav.Timeout, err = parseDuration("timeout", req.Timeout, nav.Timeout); err != nil {
		return opts, err
	}
	if req.Timeout != "" {
		nav.NoTimeout = nav.Timeout == 0
	}
	if nav.RetryDelay, err = parseDuration("retry_delay", req.RetryDelay, nav.RetryDelay); err != nil {
		return opts, err
	}
	if req.RetryDelay != "" {
		nav.NoRetryDelay = nav.RetryDelay == 0
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return opts, types.NewError(types.ErrInvalidRequest, "max_retries must not be negative")
		}
		nav.MaxRetries = *req.MaxRetries
		nav.NoRetry = *req.MaxRetries == 0
	}
	if req.NoRetry {
		nav.NoRetry = true
	}
	if len(req.Headers) > 0 {
		nav.Headers = req.Headers
	}
	opts.Navigation = &nav

	if req.InstanceID != "" {
		launch := h.app.LaunchDefaults()
		launch.InstanceID = req.InstanceID
		opts.Launch = &launch
	}
	opts.Session = req.Session
	return opts, nil
}

func validateURL(raw string) *types.Error {
	if raw == "" {
		return types.NewError(types.ErrInvalidRequest, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return types.NewError(types.ErrInvalidRequest, "url must be an absolute http(s) URL")
	}
	return nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, *types.Error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, types.NewError(types.ErrInvalidRequest, "invalid "+field+": "+raw)
	}
	return d, nil
}
