// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，供 sql 会话存储使用。

# 核心类型

  - Config：驱动、DSN、AutoMigrate 开关、慢查询阈值与连接池参数。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()，并在后台定时探活。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。

# 驱动

Open 按 Config.Driver 选择方言：postgres、mysql、sqlite（纯 Go，
glebarez/sqlite）与 sqlite3（cgo，gorm.io/driver/sqlite）。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、
序列化失败、连接中断等错误做指数退避重试。
*/
package database
