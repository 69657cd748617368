// Package ctxkeys 定义跨包共享的 context 键，
// 供 HTTP 中间件、导航控制器与日志字段使用。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	traceIDKey    contextKey = "trace_id"
	instanceIDKey contextKey = "instance_id"
	sessionKey    contextKey = "session_name"
)

func value(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	return value(ctx, requestIDKey)
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return value(ctx, traceIDKey)
}

// WithInstanceID 设置当前请求使用的浏览器实例
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// InstanceID 获取浏览器实例 ID
func InstanceID(ctx context.Context) (string, bool) {
	return value(ctx, instanceIDKey)
}

// WithSessionName 设置会话名称
func WithSessionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, sessionKey, name)
}

// SessionName 获取会话名称
func SessionName(ctx context.Context) (string, bool) {
	return value(ctx, sessionKey)
}
