// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 BrowserFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 events、plugins、browser、
navigation、session、captcha 等上层模块提供统一的类型契约，避免循环依赖。

# 核心接口与类型

  - Launcher / Browser / Page / Request — 浏览器引擎句柄契约，
    由 browser 包的 chromedp 适配器实现，测试中可替换为内存假实现
  - LaunchOptions    — 浏览器启动参数（实例 ID、headless、用户数据目录、启动参数）
  - GotoOptions      — 单次导航参数（waitUntil 条件与超时）
  - Cookie           — 与会话文件 JSON 格式一致的 Cookie 结构
  - Error / ErrorCode — 结构化错误体系，覆盖启动、导航、钩子、清理、会话 IO 等错误类别

# 主要能力

  - DefaultBrowserArgs：默认的 23 个 Chromium 启动参数
  - 错误工具链：NewError / WithCause / IsRetryable / GetErrorCode / IsErrorCode
*/
package types
