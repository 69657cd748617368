package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/internal/channel"
	"github.com/BaSui01/browserflow/types"
)

type streamFixture struct {
	bus    *events.Bus
	stream *EventStream
	srv    *httptest.Server
}

func newStreamFixture(t *testing.T, cfg channel.BroadcasterConfig) *streamFixture {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	stream := NewEventStream(bus, cfg, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(stream.HandleStream))
	t.Cleanup(func() {
		stream.Close()
		srv.Close()
	})
	return &streamFixture{bus: bus, stream: stream, srv: srv}
}

func (f *streamFixture) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func (f *streamFixture) waitSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.stream.Subscribers() == n }, 2*time.Second, 5*time.Millisecond)
}

// =============================================================================
// 🧪 EventStream 测试
// =============================================================================

func TestEventStream_DeliversRedactedEvents(t *testing.T) {
	f := newStreamFixture(t, channel.DefaultBroadcasterConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx, "")
	f.waitSubscribers(t, 1)

	f.bus.Emit(ctx, events.NavigationStarted, &events.NavigationEvent{
		URL:     "https://example.com",
		Attempt: 1,
		Options: &types.NavigationOptions{Headers: map[string]string{"Authorization": "Bearer secret"}},
	})

	var got map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, string(events.NavigationStarted), got["name"])
	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", payload["url"])
	assert.NotContains(t, payload, "options")
}

func TestEventStream_Filter(t *testing.T) {
	f := newStreamFixture(t, channel.DefaultBroadcasterConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx, "?filter=browser:")
	f.waitSubscribers(t, 1)

	f.bus.Emit(ctx, events.PageCreated, &events.PageEvent{InstanceID: "default"})
	f.bus.Emit(ctx, events.BrowserClosed, &events.BrowserEvent{InstanceID: "default"})

	var env events.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, events.BrowserClosed, env.Name)
}

func TestEventStream_ErrorIsLifted(t *testing.T) {
	f := newStreamFixture(t, channel.DefaultBroadcasterConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx, "?filter=browser:error")
	f.waitSubscribers(t, 1)

	f.bus.Emit(ctx, events.BrowserError, &events.BrowserEvent{InstanceID: "x", Err: assert.AnError})

	var env events.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, assert.AnError.Error(), env.Error)
}

func TestEventStream_CloseDisconnectsClients(t *testing.T) {
	f := newStreamFixture(t, channel.DefaultBroadcasterConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := f.dial(t, ctx, "")
	f.waitSubscribers(t, 1)

	f.stream.Close()
	f.stream.Close()

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Zero(t, f.bus.ListenerCount(events.PageCreated))
}

func TestEventStream_TooManySubscribers(t *testing.T) {
	f := newStreamFixture(t, channel.BroadcasterConfig{BufferSize: 1, MaxSubscribers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.dial(t, ctx, "")
	f.waitSubscribers(t, 1)

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		raw  string
		name events.Name
		want bool
	}{
		{"", events.PageCreated, true},
		{"page:created", events.PageCreated, true},
		{"page:created", events.PageClosed, false},
		{"navigation:", events.NavigationFailed, true},
		{"navigation:, browser:closed", events.BrowserClosed, true},
		{"navigation:, browser:closed", events.BrowserCreated, false},
		{"page", events.PageCreated, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw+"/"+string(tt.name), func(t *testing.T) {
			assert.Equal(t, tt.want, matchFilter(parseFilter(tt.raw), tt.name))
		})
	}
}

func TestRedactPayload(t *testing.T) {
	orig := &events.CaptchaEvent{URL: "https://a.example", Solution: "token"}
	out := redactPayload(orig).(*events.CaptchaEvent)
	assert.Empty(t, out.Solution)
	assert.Equal(t, "token", orig.Solution, "source payload untouched")

	launch := &events.BrowserEvent{InstanceID: "a", Options: &types.LaunchOptions{Args: []string{"--proxy-server=http://u:p@proxy"}}}
	assert.Nil(t, redactPayload(launch).(*events.BrowserEvent).Options)
	assert.NotNil(t, launch.Options)

	assert.Equal(t, "plain", redactPayload("plain"))
}
