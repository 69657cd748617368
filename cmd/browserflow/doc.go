// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 BrowserFlow 程序入口。

# 概述

cmd/browserflow 把 browserflow.App 包装为可执行程序：HTTP 服务、
一次性抓取、会话库迁移、健康检查与版本查询。配置来自 YAML 文件与
BROWSERFLOW_ 前缀的环境变量，日志使用 zap。

# 子命令

  - serve    启动 HTTP API 与独立的 Metrics 端口，支持配置热重载
  - fetch    在有界 goroutine 池中抓取一个或多个 URL，结果写到 stdout
  - migrate  对 SQL 会话存储执行 golang-migrate 迁移
  - health   请求运行中服务的 /ready
  - version  打印 ldflags 注入的构建信息

# 中间件链

由外到内：Recovery、RequestID、RequestLogger、SecurityHeaders、CORS、
RateLimiter（按客户端 IP）、Auth（X-API-Key 或 HS256 Bearer JWT）、
OpenTelemetry tracing，最内层是按路由模式记录的 Prometheus 指标。

# 优雅关闭

收到 SIGINT/SIGTERM 后依次停止 HTTP 与 Metrics 端口、热重载、事件流、
App（插件清理与浏览器关闭）以及遥测导出。
*/
package main
