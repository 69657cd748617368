package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	tests := []struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}{
		{"request_id", WithRequestID, RequestID},
		{"trace_id", WithTraceID, TraceID},
		{"instance_id", WithInstanceID, InstanceID},
		{"session_name", WithSessionName, SessionName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.get(context.Background())
			assert.False(t, ok)

			_, ok = tt.get(tt.set(context.Background(), ""))
			assert.False(t, ok, "empty value counts as missing")

			v, ok := tt.get(tt.set(context.Background(), "abc"))
			assert.True(t, ok)
			assert.Equal(t, "abc", v)
		})
	}
}

func TestContextKeys_Independent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req")
	ctx = WithInstanceID(ctx, "inst")

	_, ok := TraceID(ctx)
	assert.False(t, ok)
	v, _ := RequestID(ctx)
	assert.Equal(t, "req", v)
}
