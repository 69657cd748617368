// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

/*
Package captcha 检测页面中的验证码并通过第三方打码服务求解。

# 组成

  - Solver：打码服务契约（GetBalance / Solve / ReportIncorrect）
  - TwoCaptchaSolver：2captcha 表单接口（in.php / res.php，json=1）
  - AntiCaptchaSolver：anti-captcha JSON 接口（createTask / getTaskResult）
  - Factory：按 service-apiKey 缓存 Solver，并发首次创建只发生一次
  - Detector：解析页面 HTML 并读取 JS 全局对象，识别五类验证码
  - Helper：把检测、求解、令牌注入和事件串起来，供插件使用

# HTTP

打码请求走 resty，底层 transport 为 go-retryablehttp（5xx 与连接错误自动重试），
每个 Solver 额外持有一个 x/time/rate 限流器。

# 事件

  - captcha:detected：Detector 发现至少一个验证码
  - captcha:solved：Helper 求解成功
*/
package captcha
