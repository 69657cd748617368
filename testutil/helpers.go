// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	testutil.AssertCookiesEqual(t, expected, actual)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertCookiesEqual 断言两组 Cookie 相等（忽略顺序）
func AssertCookiesEqual(t *testing.T, expected, actual []types.Cookie) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("cookie count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	key := func(c types.Cookie) string { return c.Domain + "|" + c.Path + "|" + c.Name }
	exp := append([]types.Cookie(nil), expected...)
	act := append([]types.Cookie(nil), actual...)
	sort.Slice(exp, func(i, j int) bool { return key(exp[i]) < key(exp[j]) })
	sort.Slice(act, func(i, j int) bool { return key(act[i]) < key(act[j]) })

	for i := range exp {
		if !reflect.DeepEqual(exp[i], act[i]) {
			t.Errorf("cookie %d mismatch:\nexpected: %+v\nactual:   %+v", i, exp[i], act[i])
		}
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// AssertEventuallyEqual 断言值最终相等
func AssertEventuallyEqual(t *testing.T, expected any, getter func() any, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastValue any

	for time.Now().Before(deadline) {
		lastValue = getter()
		if reflect.DeepEqual(expected, lastValue) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("value did not become %v within %v, last value: %v", expected, timeout, lastValue)
}

// =============================================================================
// 📡 事件记录
// =============================================================================

// RecordedEvent 是一次被记录的事件
type RecordedEvent struct {
	Name    events.Name
	Payload any
}

// EventRecorder 订阅总线上的全部事件并按到达顺序记录
type EventRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewEventRecorder 创建记录器并订阅 events.All 中的所有事件
func NewEventRecorder(bus *events.Bus) *EventRecorder {
	r := &EventRecorder{}
	for _, name := range events.All {
		bus.On(name, func(_ context.Context, payload any) error {
			r.mu.Lock()
			r.events = append(r.events, RecordedEvent{Name: name, Payload: payload})
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

// Names 返回已记录的事件名称
func (r *EventRecorder) Names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Count 返回某事件出现的次数
func (r *EventRecorder) Count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Payloads 返回某事件的全部载荷
func (r *EventRecorder) Payloads(name events.Name) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e.Payload)
		}
	}
	return out
}
