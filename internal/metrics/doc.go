// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP API 与浏览器运行时。

# 核心类型

  - Collector：持有全部 Counter / Gauge / Histogram 向量，通过
    promauto.With 注册到调用方提供的 Registerer。

# 主要能力

  - HTTP 指标：Middleware 按 method / 路由模式 / 状态码分组记录请求数、
    耗时与请求/响应体大小。
  - 事件指标：AttachBus 订阅事件总线的全部事件，维护活跃浏览器与页面
    数量、导航结果、插件数量、会话操作、验证码检测/解决以及错误来源计数。
  - 直接记录：RecordNavigation 记录端到端导航耗时，RecordHook 记录钩子
    分发耗时。
*/
package metrics
