package captcha

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

// defaultV3Action is used when a v3 site key is found without an action.
const defaultV3Action = "verify"

var arkoseID = regexp.MustCompile(`arkose-(\d+)`)

// globalsScript reads the captcha globals the HTML alone cannot reveal.
const globalsScript = `() => {
  const out = { grecaptcha: typeof window.grecaptcha !== "undefined", enterprise: false, arkoseKey: "" };
  if (out.grecaptcha) out.enterprise = typeof window.grecaptcha.enterprise !== "undefined";
  try {
    if (window.arkose && window.arkose.getPublicKey) out.arkoseKey = window.arkose.getPublicKey() || "";
  } catch (e) {}
  return out;
}`

// Globals is the result of globalsScript.
type Globals struct {
	Grecaptcha bool   `json:"grecaptcha"`
	Enterprise bool   `json:"enterprise"`
	ArkoseKey  string `json:"arkoseKey"`
}

// Detection lists the captchas found on a page, per variant.
type Detection struct {
	URL         string               `json:"url"`
	RecaptchaV2 []RecaptchaV2Options `json:"recaptcha_v2"`
	RecaptchaV3 []RecaptchaV3Options `json:"recaptcha_v3"`
	HCaptcha    []HCaptchaOptions    `json:"hcaptcha"`
	FunCaptcha  []FunCaptchaOptions  `json:"funcaptcha"`
	Turnstile   []TurnstileOptions   `json:"turnstile"`
}

// Count returns the total number of captchas detected.
func (d Detection) Count() int {
	return len(d.RecaptchaV2) + len(d.RecaptchaV3) + len(d.HCaptcha) + len(d.FunCaptcha) + len(d.Turnstile)
}

// DetectHTML inspects a page's markup. g carries what was read from the
// page's JavaScript globals.
//
// Every [data-sitekey] element is classified once: hCaptcha when it has the
// h-captcha class or a data-hcaptcha-widget-id, Turnstile when it has the
// cf-turnstile class or a data-action, reCAPTCHA v2 otherwise.
func DetectHTML(pageURL, markup string, g Globals) (Detection, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return Detection{}, fmt.Errorf("parse page html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	det := Detection{
		URL:         pageURL,
		RecaptchaV2: []RecaptchaV2Options{},
		RecaptchaV3: []RecaptchaV3Options{},
		HCaptcha:    []HCaptchaOptions{},
		FunCaptcha:  []FunCaptchaOptions{},
		Turnstile:   []TurnstileOptions{},
	}

	doc.Find("[data-sitekey]").Each(func(_ int, s *goquery.Selection) {
		key := strings.TrimSpace(s.AttrOr("data-sitekey", ""))
		if key == "" {
			return
		}
		_, widgetID := s.Attr("data-hcaptcha-widget-id")
		action, hasAction := s.Attr("data-action")

		switch {
		case s.HasClass("h-captcha") || widgetID:
			det.HCaptcha = append(det.HCaptcha, HCaptchaOptions{URL: pageURL, SiteKey: key})
		case s.HasClass("cf-turnstile") || hasAction:
			det.Turnstile = append(det.Turnstile, TurnstileOptions{URL: pageURL, SiteKey: key, Action: action})
		default:
			det.RecaptchaV2 = append(det.RecaptchaV2, RecaptchaV2Options{
				URL:        pageURL,
				SiteKey:    key,
				S:          s.AttrOr("data-s", ""),
				Invisible:  s.AttrOr("data-size", "") == "invisible",
				Enterprise: g.Grecaptcha && g.Enterprise,
			})
		}
	})

	doc.Find(`script[src*="recaptcha/"]`).Each(func(_ int, s *goquery.Selection) {
		if opts, ok := recaptchaV3FromScript(pageURL, s.AttrOr("src", "")); ok {
			det.RecaptchaV3 = append(det.RecaptchaV3, opts)
		}
	})

	if g.ArkoseKey != "" {
		det.FunCaptcha = append(det.FunCaptcha, FunCaptchaOptions{URL: pageURL, PublicKey: g.ArkoseKey})
	}
	doc.Find(`[id^="arkose-"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		if m := arkoseID.FindStringSubmatch(id); m != nil {
			det.FunCaptcha = append(det.FunCaptcha, FunCaptchaOptions{URL: pageURL, PublicKey: m[1]})
		}
	})

	return det, nil
}

// recaptchaV3FromScript recognises api.js?render=<sitekey> loaders.
func recaptchaV3FromScript(pageURL, src string) (RecaptchaV3Options, bool) {
	u, err := url.Parse(src)
	if err != nil {
		return RecaptchaV3Options{}, false
	}
	if !strings.HasSuffix(u.Path, "/api.js") && !strings.HasSuffix(u.Path, "/enterprise.js") {
		return RecaptchaV3Options{}, false
	}
	key := u.Query().Get("render")
	if key == "" || key == "explicit" || key == "onload" {
		return RecaptchaV3Options{}, false
	}
	return RecaptchaV3Options{
		URL:        pageURL,
		SiteKey:    key,
		Action:     defaultV3Action,
		Enterprise: strings.HasSuffix(u.Path, "/enterprise.js"),
	}, true
}

// Detector finds captchas on live pages.
type Detector struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewDetector(bus *events.Bus, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{bus: bus, logger: logger.With(zap.String("component", "captcha_detector"))}
}

// Detect reads the page content and globals and emits captcha:detected
// when anything is found. A failure to read the globals is not fatal.
func (d *Detector) Detect(ctx context.Context, page types.Page) (Detection, error) {
	pageURL := page.URL()
	markup, err := page.Content(ctx)
	if err != nil {
		return Detection{}, fmt.Errorf("read page content: %w", err)
	}

	var g Globals
	if err := page.Evaluate(ctx, globalsScript, &g); err != nil {
		d.logger.Debug("captcha globals unavailable", zap.String("url", pageURL), zap.Error(err))
		g = Globals{}
	}

	det, err := DetectHTML(pageURL, markup, g)
	if err != nil {
		return Detection{}, err
	}

	if n := det.Count(); n > 0 {
		d.logger.Debug("captchas detected", zap.String("url", pageURL), zap.Int("count", n))
		if d.bus != nil {
			if _, err := d.bus.EmitAsync(ctx, events.CaptchaDetected, &events.CaptchaEvent{
				URL:     pageURL,
				Count:   n,
				Details: &det,
			}); err != nil {
				d.logger.Warn("captcha:detected listener failed", zap.Error(err))
			}
		}
	}
	return det, nil
}
