// =============================================================================
// 📄 页面与 Cookie 测试数据
// =============================================================================
// 验证码检测测试使用的 HTML 样例，以及会话测试共用的 Cookie。
// =============================================================================
package fixtures

import "github.com/BaSui01/browserflow/types"

// PageURL 是样例页面的地址
const PageURL = "https://example.com/login"

// 各类验证码的 site key
const (
	RecaptchaSiteKey  = "6Le-wvkSAAAAAPBMRTvw0Q4Muexq9bi0DJwx_mJ-"
	InvisibleSiteKey  = "6Lc-invisible-key"
	RecaptchaV3Key    = "6Lc-v3-render-key"
	HCaptchaSiteKey   = "10000000-ffff-ffff-ffff-000000000001"
	TurnstileSiteKey  = "0x4AAAAAAAC3DHQFLr1GavRN"
	ArkosePublicKey   = "476068"
	ArkoseGlobalKey   = "DF9C4D87-CB7B-4062-9FEB-BADB6ADA61E6"
	RecaptchaDataS    = "data-s-token"
	TurnstileAction   = "login"
	EnterpriseSiteKey = "6Lc-enterprise-key"
)

// BlankPage 不含验证码
const BlankPage = `<!DOCTYPE html>
<html><head><title>Blank</title></head><body><p>nothing here</p></body></html>`

// RecaptchaV2Page 含一个普通和一个隐形 reCAPTCHA v2
const RecaptchaV2Page = `<!DOCTYPE html>
<html>
<head><script src="https://www.google.com/recaptcha/api.js" async defer></script></head>
<body>
  <form action="/login" method="post">
    <div class="g-recaptcha" data-sitekey="` + RecaptchaSiteKey + `" data-s="` + RecaptchaDataS + `"></div>
    <div class="g-recaptcha" data-sitekey="` + InvisibleSiteKey + `" data-size="invisible"></div>
    <textarea id="g-recaptcha-response" name="g-recaptcha-response" style="display:none"></textarea>
  </form>
</body>
</html>`

// RecaptchaV3Page 通过 render 参数加载 v3
const RecaptchaV3Page = `<!DOCTYPE html>
<html>
<head><script src="https://www.google.com/recaptcha/api.js?render=` + RecaptchaV3Key + `"></script></head>
<body><button>Submit</button></body>
</html>`

// HCaptchaPage 含一个 hCaptcha 组件
const HCaptchaPage = `<!DOCTYPE html>
<html>
<head><script src="https://js.hcaptcha.com/1/api.js" async defer></script></head>
<body>
  <form><div class="h-captcha" data-sitekey="` + HCaptchaSiteKey + `"></div></form>
</body>
</html>`

// TurnstilePage 含一个带 action 的 Turnstile 组件
const TurnstilePage = `<!DOCTYPE html>
<html>
<body>
  <div class="cf-turnstile" data-sitekey="` + TurnstileSiteKey + `" data-action="` + TurnstileAction + `"></div>
</body>
</html>`

// FunCaptchaPage 含一个 arkose 容器
const FunCaptchaPage = `<!DOCTYPE html>
<html>
<body><div id="arkose-` + ArkosePublicKey + `"></div><div id="arkose-container"></div></body>
</html>`

// MixedPage 五类验证码各一个
const MixedPage = `<!DOCTYPE html>
<html>
<head><script src="https://www.google.com/recaptcha/enterprise.js?render=` + RecaptchaV3Key + `"></script></head>
<body>
  <div class="g-recaptcha" data-sitekey="` + EnterpriseSiteKey + `"></div>
  <div class="h-captcha" data-sitekey="` + HCaptchaSiteKey + `"></div>
  <div class="cf-turnstile" data-sitekey="` + TurnstileSiteKey + `"></div>
  <div id="arkose-` + ArkosePublicKey + `"></div>
  <div data-sitekey=""></div>
</body>
</html>`

// SessionCookies 覆盖主域、子域与无关域
func SessionCookies() []types.Cookie {
	return []types.Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Expires: -1, HTTPOnly: true},
		{Name: "pref", Value: "dark", Domain: ".sub.example.com", Path: "/", Expires: 1893456000, SameSite: types.SameSiteLax},
		{Name: "track", Value: "1", Domain: "other.com", Path: "/", Expires: -1, Secure: true, SameSite: types.SameSiteNone},
	}
}
