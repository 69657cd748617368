// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 BrowserFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertCookiesEqual 忽略顺序比较 Cookie
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 事件记录: EventRecorder 订阅事件总线上的全部事件，按顺序记录名称与载荷

# 子包

  - testutil/mocks: 浏览器引擎契约的内存模拟实现
    （MockLauncher、MockBrowser、MockPage、MockRequest），
    支持 Builder 模式与错误注入
  - testutil/fixtures: 测试数据，包括各类验证码页面 HTML 与 Cookie 样例

# 使用示例

	ctx := testutil.TestContext(t)
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("net::ERR_TIMED_OUT"))
	rec := testutil.NewEventRecorder(bus)
	ok := nav.Goto(ctx, page, "https://example.com", opts)
	assert.Equal(t, 1, rec.Count(events.NavigationError))
*/
package testutil
