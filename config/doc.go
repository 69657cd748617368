// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 config 提供 BrowserFlow 的配置管理：默认值、YAML 文件与
BROWSERFLOW_ 前缀环境变量三层加载，以及基于 fsnotify 的热重载。

# 核心类型

  - Config：server / browser / navigation / events / session /
    captcha / proxy / log / telemetry / auth 各段配置，每段提供
    到领域类型的转换方法（LaunchOptions、Options、HelperConfig 等）。
  - Loader：Builder 风格的加载器，优先级为 默认值 → 文件 → 环境变量。
  - FileWatcher：监听配置文件所在目录，防抖后回调。
  - HotReloadManager：文件变更后经 Loader 重载、校验、记录历史，
    回调失败时回滚；UpdateField 支持运行时修改可热重载字段。
*/
package config
