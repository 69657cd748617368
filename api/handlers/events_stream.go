package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/internal/channel"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// 📡 事件流 Handler（WebSocket）
// =============================================================================

const (
	streamPingInterval = 20 * time.Second
	streamWriteTimeout = 5 * time.Second
)

// EventStream 把总线事件扇出到 WebSocket 客户端。慢客户端只会丢消息，
// 不会阻塞 Emit
type EventStream struct {
	broadcaster    *channel.Broadcaster[events.Envelope]
	originPatterns []string
	logger         *zap.Logger

	detachOnce sync.Once
	detach     func()
}

// NewEventStream 订阅 bus 上的全部事件
func NewEventStream(bus *events.Bus, cfg channel.BroadcasterConfig, originPatterns []string, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventStream{
		broadcaster:    channel.NewBroadcaster[events.Envelope](cfg),
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("handler", "event_stream")),
	}

	ids := make(map[events.Name]events.ListenerID, len(events.All))
	for _, name := range events.All {
		ids[name] = bus.On(name, func(_ context.Context, payload any) error {
			if s.broadcaster.Len() > 0 {
				s.broadcaster.Publish(events.NewEnvelope(name, redactPayload(payload)))
			}
			return nil
		})
	}
	s.detach = func() {
		for name, id := range ids {
			bus.Off(name, id)
		}
	}
	return s
}

// Subscribers 当前连接数
func (s *EventStream) Subscribers() int { return s.broadcaster.Len() }

// Stats 返回扇出统计
func (s *EventStream) Stats() channel.BroadcasterStats { return s.broadcaster.Stats() }

// Close 解除总线监听并断开所有连接
func (s *EventStream) Close() {
	s.detachOnce.Do(func() {
		s.detach()
		s.broadcaster.Close()
	})
}

// HandleStream 升级为 WebSocket 并持续推送事件。
// 查询参数 filter 为逗号分隔的事件名或前缀，例如 navigation:,browser:closed
// @Summary 事件流
// @Tags 事件
// @Param filter query string false "事件名或前缀，逗号分隔"
// @Router /api/v1/events/stream [get]
func (s *EventStream) HandleStream(w http.ResponseWriter, r *http.Request) {
	sub, err := s.broadcaster.Subscribe()
	if err != nil {
		status, code := http.StatusServiceUnavailable, types.ErrInternalError
		if errors.Is(err, channel.ErrTooManySubscribers) {
			status, code = http.StatusTooManyRequests, types.ErrRateLimited
		}
		WriteErrorMessage(w, r, status, code, err.Error(), s.logger)
		return
	}
	defer sub.Close()

	// 长连接不受 Server.WriteTimeout 约束
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		// Accept 已写入错误响应
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	connID := uuid.NewString()
	filter := parseFilter(r.URL.Query().Get("filter"))
	logger := s.logger.With(zap.String("conn_id", connID))
	logger.Info("event stream connected", zap.Strings("filter", filter))
	defer func() {
		logger.Info("event stream disconnected", zap.Int64("dropped", sub.Dropped()))
	}()

	// 只读控制帧；对端关闭时 ctx 结束
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if !matchFilter(filter, env.Name) {
				continue
			}
			if err := writeWithTimeout(ctx, conn, env); err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func parseFilter(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// matchFilter 空过滤器匹配全部；以 ':' 结尾的项按前缀匹配
func matchFilter(filter []string, name events.Name) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if strings.HasSuffix(f, ":") {
			if strings.HasPrefix(string(name), f) {
				return true
			}
		} else if string(name) == f {
			return true
		}
	}
	return false
}

// redactPayload 复制载荷并去掉启动/导航参数（可能含代理凭据或请求头）
func redactPayload(payload any) any {
	switch p := payload.(type) {
	case *events.BrowserEvent:
		c := *p
		c.Options = nil
		return &c
	case *events.NavigationEvent:
		c := *p
		c.Options = nil
		return &c
	case *events.PageEvent:
		c := *p
		return &c
	case *events.SessionEvent:
		c := *p
		return &c
	case *events.CaptchaEvent:
		c := *p
		c.Solution = ""
		return &c
	}
	return payload
}
