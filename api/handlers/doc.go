// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 BrowserFlow 控制 API 的请求处理器实现。

# 概述

所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的
"METHOD /path/{param}" 模式注册，Swagger 注解随代码维护。

# 核心类型

  - NavigateHandler  — 导航并返回页面内容，可选会话恢复与保存
  - SessionHandler   — 已保存会话的列表、摘要与删除
  - RuntimeHandler   — 插件与浏览器实例的查看和注销
  - ConfigHandler    — 配置查询、字段热更新、文件重载、变更历史
  - EventStream      — 总线事件的 WebSocket 推送，支持按名称或前缀过滤
  - HealthHandler    — /healthz、/ready、/version
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

types.ErrorCode 通过 WriteError 映射为 HTTP 状态码，例如
NAVIGATION_FAILED → 502、LAUNCH_FAILED → 503、TIMEOUT → 504。
5xx 以 Error 级别记录，其余以 Debug 级别记录。
*/
package handlers
