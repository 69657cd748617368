package api

import (
	"time"
)

// =============================================================================
// 统一响应结构
// =============================================================================

// Response 是所有 JSON 端点的统一外层结构。
// @Description 统一 API 响应
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 结构化错误信息。
// @Description 错误详情
type ErrorInfo struct {
	Code       string `json:"code" example:"NAVIGATION_FAILED"`
	Message    string `json:"message" example:"Failed to navigate to https://example.com: timeout"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 导航
// =============================================================================

// NavigateRequest 打开页面并导航。未设置的字段使用服务端默认值。
// @Description 导航请求
type NavigateRequest struct {
	// 目标地址
	URL string `json:"url" example:"https://example.com" binding:"required"`
	// 复用或启动的浏览器实例
	InstanceID string `json:"instance_id,omitempty" example:"default"`
	// 导航前应用、成功后保存的会话名
	Session string `json:"session,omitempty" example:"account-1"`
	// load / domcontentloaded / networkidle0 / networkidle2
	WaitUntil []string `json:"wait_until,omitempty"`
	// 单次尝试超时，Go duration 格式；"0s" 表示不设超时
	Timeout string `json:"timeout,omitempty" example:"30s"`
	// 失败后的重试次数
	MaxRetries *int `json:"max_retries,omitempty" example:"2"`
	// 只尝试一次
	NoRetry bool `json:"no_retry,omitempty"`
	// 两次尝试之间的间隔；"0s" 表示立即重试
	RetryDelay string `json:"retry_delay,omitempty" example:"5s"`
	// 合并到首个请求的额外请求头
	Headers map[string]string `json:"headers,omitempty"`
	// 为 false 时不返回页面 HTML
	IncludeContent *bool `json:"include_content,omitempty"`
}

// NavigateResponse 导航结果。
// @Description 导航结果
type NavigateResponse struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url"`
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Attempts   int    `json:"attempts" example:"1"`
	InstanceID string `json:"instance_id"`
	DurationMs int64  `json:"duration_ms"`
}

// =============================================================================
// 会话
// =============================================================================

// SessionListResponse 已存储的会话名。
// @Description 会话列表
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}

// SessionSummary 单个会话的概要，不含 Cookie 值。
// @Description 会话概要
type SessionSummary struct {
	Name                string    `json:"name"`
	Cookies             int       `json:"cookies"`
	CookieDomains       []string  `json:"cookie_domains,omitempty"`
	LocalStorageItems   int       `json:"local_storage_items"`
	SessionStorageItems int       `json:"session_storage_items"`
	UserAgent           string    `json:"user_agent,omitempty"`
	LastAccessed        time.Time `json:"last_accessed"`
}

// =============================================================================
// 插件与浏览器
// =============================================================================

// PluginInfo 已注册插件。
// @Description 插件信息
type PluginInfo struct {
	Name         string    `json:"name" example:"session"`
	Version      string    `json:"version,omitempty"`
	State        string    `json:"state" example:"active"`
	Hooks        []string  `json:"hooks"`
	RegisteredAt time.Time `json:"registered_at"`
}

// PluginListResponse 插件列表。
type PluginListResponse struct {
	Plugins []PluginInfo `json:"plugins"`
	Total   int          `json:"total"`
}

// BrowserInfo 受管浏览器实例。
// @Description 浏览器实例
type BrowserInfo struct {
	ID         string    `json:"id" example:"default"`
	Headless   bool      `json:"headless"`
	Pages      int       `json:"pages"`
	LaunchedAt time.Time `json:"launched_at"`
}

// BrowserListResponse 浏览器列表。
type BrowserListResponse struct {
	Browsers []BrowserInfo `json:"browsers"`
	Total    int           `json:"total"`
}
