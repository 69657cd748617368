package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/config"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// ⚙️ 配置管理 Handler
// =============================================================================

// ConfigHandler 提供配置查询、字段更新、热重载与变更历史
type ConfigHandler struct {
	manager *config.HotReloadManager
	logger  *zap.Logger
}

// ConfigData 是配置端点响应中的 Data
type ConfigData struct {
	Message         string                `json:"message,omitempty"`
	Config          map[string]any        `json:"config,omitempty"`
	Fields          []FieldInfo           `json:"fields,omitempty"`
	Changes         []config.ConfigChange `json:"changes,omitempty"`
	Version         int                   `json:"version,omitempty"`
	RequiresRestart bool                  `json:"requires_restart,omitempty"`
}

// FieldInfo 描述一个已登记的配置字段
type FieldInfo struct {
	Path            string `json:"path"`
	Description     string `json:"description"`
	RequiresRestart bool   `json:"requires_restart"`
	Sensitive       bool   `json:"sensitive"`
	CurrentValue    any    `json:"current_value,omitempty"`
}

// ConfigUpdateRequest 字段路径到新值，例如 {"Navigation.Timeout": "45s"}
type ConfigUpdateRequest struct {
	Updates map[string]any `json:"updates"`
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(manager *config.HotReloadManager, logger *zap.Logger) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{manager: manager, logger: logger.With(zap.String("handler", "config"))}
}

// HandleGetConfig 返回脱敏后的当前配置
// @Summary 获取当前配置
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=ConfigData}
// @Router /api/v1/config [get]
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, ConfigData{
		Config:  h.manager.SanitizedConfig(),
		Version: h.manager.GetCurrentVersion(),
	})
}

// HandleUpdateConfig 逐个更新可热重载字段。任一字段失败时返回 400，
// 之前已成功的字段保持生效
// @Summary 更新配置
// @Tags config
// @Accept json
// @Produce json
// @Param request body ConfigUpdateRequest true "配置更新"
// @Success 200 {object} api.Response{data=ConfigData}
// @Failure 400 {object} api.Response
// @Router /api/v1/config [put]
func (h *ConfigHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Updates) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "no updates provided", h.logger)
		return
	}

	// 按路径排序，结果可复现
	paths := make([]string, 0, len(req.Updates))
	for p := range req.Updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var failures []string
	for _, path := range paths {
		if err := h.manager.UpdateField(path, req.Updates[path]); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
	}
	if len(failures) > 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			"some updates failed: "+strings.Join(failures, "; "), h.logger)
		return
	}

	h.logger.Info("configuration updated via API", zap.Strings("fields", paths))
	WriteSuccess(w, r, ConfigData{
		Message: "configuration updated",
		Config:  h.manager.SanitizedConfig(),
		Version: h.manager.GetCurrentVersion(),
	})
}

// HandleReload 从配置文件重新加载
// @Summary 从文件热重载配置
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=ConfigData}
// @Failure 500 {object} api.Response
// @Router /api/v1/config/reload [post]
func (h *ConfigHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ReloadFromFile(); err != nil {
		WriteError(w, r, types.WrapError(types.ErrInternalError, "Failed to reload configuration", err), h.logger)
		return
	}
	WriteSuccess(w, r, ConfigData{
		Message: "configuration reloaded",
		Config:  h.manager.SanitizedConfig(),
		Version: h.manager.GetCurrentVersion(),
	})
}

// HandleFields 列出已登记字段，按路径排序
// @Summary 获取配置字段
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=ConfigData}
// @Router /api/v1/config/fields [get]
func (h *ConfigHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	registry := config.GetHotReloadableFields()
	fields := make([]FieldInfo, 0, len(registry))
	for path, f := range registry {
		info := FieldInfo{
			Path:            path,
			Description:     f.Description,
			RequiresRestart: f.RequiresRestart,
			Sensitive:       f.Sensitive,
		}
		if !f.Sensitive {
			if v, err := h.manager.FieldValue(path); err == nil {
				info.CurrentValue = v
			}
		}
		fields = append(fields, info)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	WriteSuccess(w, r, ConfigData{Fields: fields})
}

// HandleChanges 返回最近的变更记录
// @Summary 获取配置变更历史
// @Tags config
// @Produce json
// @Param limit query int false "最多返回条数" default(50)
// @Success 200 {object} api.Response{data=ConfigData}
// @Router /api/v1/config/changes [get]
func (h *ConfigHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	changes := h.manager.GetChangeLog(limit)
	WriteSuccess(w, r, ConfigData{
		Message: fmt.Sprintf("retrieved %d configuration changes", len(changes)),
		Changes: changes,
	})
}
