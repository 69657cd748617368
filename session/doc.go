// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package session 在浏览器会话之间持久化 cookie、localStorage、
sessionStorage 与 User-Agent。

每个会话名对应一个 Manager。Manager 在构造时从 Store 读取已有数据
（读取失败时退回空会话），每次变更后整体写回 Store。

# 存储后端

  - file：默认，<dir>/<name>.json，先写临时文件再原子重命名
  - memory：进程内，主要用于测试
  - redis：基于 internal/cache
  - sql：基于 gorm，支持 postgres / mysql / sqlite
  - mongo：基于 mongo-driver v2

后端通过 NewStore(ctx, StoreConfig, logger) 统一创建。
*/
package session
