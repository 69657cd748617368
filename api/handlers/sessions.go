package handlers

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/api"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// SessionHandler 暴露会话存储的只读视图与删除操作
type SessionHandler struct {
	store  session.Store
	logger *zap.Logger
}

// NewSessionHandler store 为 nil 时所有端点返回 404
func NewSessionHandler(store session.Store, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{store: store, logger: logger.With(zap.String("handler", "sessions"))}
}

func (h *SessionHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "session persistence is disabled", h.logger)
		return false
	}
	return true
}

// HandleList 列出会话名
// @Summary 列出会话
// @Tags 会话
// @Produce json
// @Success 200 {object} api.Response{data=api.SessionListResponse}
// @Router /api/v1/sessions [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	names, err := h.store.List(r.Context())
	if err != nil {
		WriteError(w, r, types.WrapError(types.ErrSessionIO, "Failed to list sessions", err), h.logger)
		return
	}
	if names == nil {
		names = []string{}
	}
	WriteSuccess(w, r, api.SessionListResponse{Sessions: names, Total: len(names)})
}

// HandleGet 返回会话概要，不暴露 Cookie 值
// @Summary 获取会话
// @Tags 会话
// @Produce json
// @Param name path string true "会话名"
// @Success 200 {object} api.Response{data=api.SessionSummary}
// @Failure 404 {object} api.Response
// @Router /api/v1/sessions/{name} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	name := r.PathValue("name")
	data, err := h.store.Load(r.Context(), name)
	switch {
	case errors.Is(err, session.ErrNotFound):
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "session not found: "+name, h.logger)
		return
	case errors.Is(err, session.ErrInvalidName):
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	case err != nil:
		WriteError(w, r, types.WrapError(types.ErrSessionIO, "Failed to load session", err), h.logger)
		return
	}
	WriteSuccess(w, r, summarize(name, data))
}

// HandleDelete 删除会话，不存在时同样返回成功
// @Summary 删除会话
// @Tags 会话
// @Param name path string true "会话名"
// @Success 204
// @Router /api/v1/sessions/{name} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	name := r.PathValue("name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		if errors.Is(err, session.ErrInvalidName) {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
			return
		}
		WriteError(w, r, types.WrapError(types.ErrSessionIO, "Failed to delete session", err), h.logger)
		return
	}
	h.logger.Info("session deleted", zap.String("session", name))
	w.WriteHeader(http.StatusNoContent)
}

func summarize(name string, data *session.Data) api.SessionSummary {
	domains := make([]string, 0, len(data.Cookies))
	for _, c := range data.Cookies {
		if !slices.Contains(domains, c.Domain) {
			domains = append(domains, c.Domain)
		}
	}
	slices.Sort(domains)
	return api.SessionSummary{
		Name:                name,
		Cookies:             len(data.Cookies),
		CookieDomains:       domains,
		LocalStorageItems:   len(data.Storage.LocalStorage),
		SessionStorageItems: len(data.Storage.SessionStorage),
		UserAgent:           data.UserAgent,
		LastAccessed:        data.LastAccessedTime().UTC().Truncate(time.Millisecond),
	}
}
