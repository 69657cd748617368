// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package events 提供进程内的类型化发布/订阅事件总线。

# 概述

Bus 是 browser、navigation、session、plugins、captcha 等子系统之间的
解耦通道：各模块只发布事件，不直接依赖彼此。Bus 由应用根对象显式创建
并注入，不存在包级单例。

# 投递语义

  - Emit：按注册顺序同步调用监听器；监听器返回的错误或 panic 只记录日志
  - EmitAsync：在调用方 goroutine 上按注册顺序调用监听器，再等待 OnAsync
    监听器返回的挂起工作；panic 记录日志，错误通过 errors.Join 汇总后返回
  - OnAsync：监听器同步部分按序执行，返回的 wait 函数代表其后台工作
  - Once：监听器在执行前先被移除，即使并发或重入触发也只执行一次
  - 监听器数量达到 MaxListeners 时仅输出警告，不拒绝注册

# 事件名称

事件名称（如 browser:created、navigation:failed）定义在 names.go，
对应的载荷结构定义在 payloads.go。
*/
package events
