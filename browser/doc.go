// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 browser 负责浏览器实例的生命周期管理。

# 概述

Manager 以实例 ID 为键创建并复用浏览器实例（默认键为 "default"），
同一实例 ID 的并发首次请求通过 singleflight 合并为一次启动。
所有交出的浏览器与页面都经过装饰，使启动、建页、关页、断开等
生命周期转换统一经过插件钩子与事件总线。

# 核心类型

  - Manager：GetBrowser / CloseBrowser / CloseAllBrowsers /
    Instances / Count
  - ManagedBrowser：包装引擎浏览器，NewPage 时触发 page:created
    事件与 onPageCreated 钩子，并把页面运行时错误转交错误钩子
  - ManagedPage：包装引擎页面，Close 幂等，关闭前触发 page:closed
    事件与 onBeforePageClose 钩子

# 启动流程

onBeforeBrowserLaunch（可修改启动参数，例如代理）→ Launcher.Launch →
browser:created → onAfterBrowserLaunch → 断开监听。
启动失败时先发出 browser:error 并执行错误钩子，再返回
LAUNCH_FAILED 错误，消息为 "Failed to launch browser: <原因>"。

# 内置实现

ChromeLauncher 基于 chromedp 与 cdproto 实现 types.Launcher：
启动参数转换为 chromedp 分配器选项；--proxy-server 中的用户名密码
会被剥离，并在 Fetch.authRequired 时应答；请求拦截基于 Fetch 域。
*/
package browser
