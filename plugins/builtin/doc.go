// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package builtin 提供随 BrowserFlow 发布的内置插件。

  - SessionPlugin（session-plugin）：新页面和导航前应用会话，
    导航成功后及页面关闭前提取会话
  - ProxyPlugin（proxy-plugin）：启动时注入 --proxy-server 参数，
    按 sequential / random 策略轮换，net:: 错误时轮换并报告已处理
  - CaptchaPlugin（captcha-plugin）：初始化时查询余额，
    新页面开启自动处理，导航成功后检测并求解 reCAPTCHA v2 与 hCaptcha

所有插件的 Initialize 接受 map[string]any，按 JSON 字段名覆盖构造时的选项。
*/
package builtin
