package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/api"
	"github.com/BaSui01/browserflow/browser"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// 🔌 插件与浏览器实例
// =============================================================================

// RuntimeHandler 查看并管理运行中的插件与浏览器
type RuntimeHandler struct {
	plugins  *plugins.Manager
	browsers *browser.Manager
	logger   *zap.Logger
}

// NewRuntimeHandler 创建运行时处理器
func NewRuntimeHandler(pm *plugins.Manager, bm *browser.Manager, logger *zap.Logger) *RuntimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeHandler{plugins: pm, browsers: bm, logger: logger.With(zap.String("handler", "runtime"))}
}

// HandleListPlugins 按注册顺序列出插件
// @Summary 列出插件
// @Tags 插件
// @Produce json
// @Success 200 {object} api.Response{data=api.PluginListResponse}
// @Router /api/v1/plugins [get]
func (h *RuntimeHandler) HandleListPlugins(w http.ResponseWriter, r *http.Request) {
	infos := h.plugins.List()
	out := make([]api.PluginInfo, 0, len(infos))
	for _, info := range infos {
		hooks := make([]string, 0, len(info.Hooks))
		for _, hk := range info.Hooks {
			hooks = append(hooks, string(hk))
		}
		out = append(out, api.PluginInfo{
			Name:         info.Name,
			Version:      info.Version,
			State:        string(info.State),
			Hooks:        hooks,
			RegisteredAt: info.RegisteredAt,
		})
	}
	WriteSuccess(w, r, api.PluginListResponse{Plugins: out, Total: len(out)})
}

// HandleUnregisterPlugin 注销插件并执行其清理
// @Summary 注销插件
// @Tags 插件
// @Param name path string true "插件名"
// @Success 204
// @Failure 404 {object} api.Response
// @Router /api/v1/plugins/{name} [delete]
func (h *RuntimeHandler) HandleUnregisterPlugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.plugins.UnregisterPlugin(r.Context(), name) {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "plugin not found: "+name, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListBrowsers 列出受管浏览器
// @Summary 列出浏览器实例
// @Tags 浏览器
// @Produce json
// @Success 200 {object} api.Response{data=api.BrowserListResponse}
// @Router /api/v1/browsers [get]
func (h *RuntimeHandler) HandleListBrowsers(w http.ResponseWriter, r *http.Request) {
	instances := h.browsers.Instances()
	out := make([]api.BrowserInfo, 0, len(instances))
	for _, in := range instances {
		out = append(out, api.BrowserInfo{
			ID:         in.ID,
			Headless:   in.Headless,
			Pages:      in.Pages,
			LaunchedAt: in.LaunchedAt,
		})
	}
	WriteSuccess(w, r, api.BrowserListResponse{Browsers: out, Total: len(out)})
}

// HandleCloseBrowser 关闭一个浏览器实例
// @Summary 关闭浏览器实例
// @Tags 浏览器
// @Param id path string true "实例 ID"
// @Success 204
// @Failure 404 {object} api.Response
// @Router /api/v1/browsers/{id} [delete]
func (h *RuntimeHandler) HandleCloseBrowser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.browsers.Get(id); !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "browser not found: "+id, h.logger)
		return
	}
	if err := h.browsers.CloseBrowser(r.Context(), id); err != nil {
		WriteError(w, r, AsError(err), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
