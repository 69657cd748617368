// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 cache 封装 go-redis 客户端，为 redis 会话存储提供连接管理。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/Keys
    以及 GetJSON/SetJSON 便捷方法，并在后台定时 Ping 做健康检查。
  - Config：地址、密码、库号、默认 TTL、连接池与健康检查间隔。

# 过期语义

Set 的 ttl 为 0 时使用 Config.DefaultTTL；DefaultTTL 为 0 或 ttl 为
NoExpiration 时键不过期。会话数据默认不过期。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断；关闭后的调用返回
ErrClosed。
*/
package cache
