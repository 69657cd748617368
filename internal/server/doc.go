// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 BrowserFlow HTTP API 服务器的生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听（支持 ":0" 随机端口，
Addr 返回实际地址），Run 阻塞直到 context 结束后在 ShutdownTimeout
内优雅关闭。配置了证书与私钥时以 HTTPS 启动，TLS 参数来自
internal/tlsutil。信号处理由调用方通过 signal.NotifyContext 完成。
*/
package server
