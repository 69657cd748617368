// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理会话存储（browser_sessions 表）的版本化 Schema，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下。
SchemaMigrator 不自行打开连接：调用方传入 *sql.DB（通常来自
internal/database 的 PoolManager），因此 SQLite 驱动由调用方决定，
本包不会与其他 "sqlite" 驱动注册冲突。

# 核心类型

  - Migrator：Up/Down/Steps/Goto/Force/Version/Status/Info/Close。
  - SchemaMigrator：golang-migrate 的封装，ctx 取消时通过
    GracefulStop 在当前迁移完成后停止。
  - Dialect：postgres / mysql / sqlite，ParseDialect 接受
    internal/database 的驱动名。
  - CLI：`browserflow migrate` 子命令的文本输出层。

# 注意

golang-migrate 的数据库驱动会接管传入的 *sql.DB，Close 时一并关闭。
*/
package migration
