// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package navigation 提供带重试的页面导航与常用页面操作。

Navigator 在每次尝试前后触发 BeforeNavigation / AfterNavigation 插件钩子，
并在总线上发布 navigation:* 事件。失败的尝试会交给插件的 ErrorHook；
若有插件声明已处理，则立即重试，否则等待 RetryDelay 后重试。

	nav := navigation.NewNavigator(pm, logger)
	if !nav.Goto(ctx, page, "https://example.com", types.NavigationOptions{}) {
		// all attempts failed
	}

页面操作（Click、Type、Evaluate 等）在失败时同样上报到插件错误钩子，
然后把错误返回给调用方。
*/
package navigation
