package captcha

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/testutil"
	"github.com/BaSui01/browserflow/testutil/fixtures"
	"github.com/BaSui01/browserflow/testutil/mocks"
	"github.com/BaSui01/browserflow/types"
)

func TestDetectHTML(t *testing.T) {
	u := fixtures.PageURL

	tests := []struct {
		name    string
		markup  string
		globals Globals
		check   func(t *testing.T, d Detection)
	}{
		{
			name:   "blank",
			markup: fixtures.BlankPage,
			check: func(t *testing.T, d Detection) {
				assert.Zero(t, d.Count())
				assert.NotNil(t, d.RecaptchaV2)
			},
		},
		{
			name:   "recaptcha v2",
			markup: fixtures.RecaptchaV2Page,
			check: func(t *testing.T, d Detection) {
				assert.Equal(t, []RecaptchaV2Options{
					{URL: u, SiteKey: fixtures.RecaptchaSiteKey, S: fixtures.RecaptchaDataS},
					{URL: u, SiteKey: fixtures.InvisibleSiteKey, Invisible: true},
				}, d.RecaptchaV2)
				assert.Equal(t, 2, d.Count())
			},
		},
		{
			name:    "recaptcha v2 enterprise global",
			markup:  fixtures.RecaptchaV2Page,
			globals: Globals{Grecaptcha: true, Enterprise: true},
			check: func(t *testing.T, d Detection) {
				require.Len(t, d.RecaptchaV2, 2)
				assert.True(t, d.RecaptchaV2[0].Enterprise)
				assert.True(t, d.RecaptchaV2[1].Enterprise)
			},
		},
		{
			name:   "recaptcha v3 render key",
			markup: fixtures.RecaptchaV3Page,
			check: func(t *testing.T, d Detection) {
				assert.Equal(t, []RecaptchaV3Options{
					{URL: u, SiteKey: fixtures.RecaptchaV3Key, Action: defaultV3Action},
				}, d.RecaptchaV3)
			},
		},
		{
			name:   "hcaptcha",
			markup: fixtures.HCaptchaPage,
			check: func(t *testing.T, d Detection) {
				assert.Equal(t, []HCaptchaOptions{{URL: u, SiteKey: fixtures.HCaptchaSiteKey}}, d.HCaptcha)
				assert.Empty(t, d.RecaptchaV2)
			},
		},
		{
			name:   "turnstile",
			markup: fixtures.TurnstilePage,
			check: func(t *testing.T, d Detection) {
				assert.Equal(t, []TurnstileOptions{
					{URL: u, SiteKey: fixtures.TurnstileSiteKey, Action: fixtures.TurnstileAction},
				}, d.Turnstile)
				assert.Empty(t, d.RecaptchaV2)
			},
		},
		{
			name:    "funcaptcha element and global",
			markup:  fixtures.FunCaptchaPage,
			globals: Globals{ArkoseKey: fixtures.ArkoseGlobalKey},
			check: func(t *testing.T, d Detection) {
				assert.Equal(t, []FunCaptchaOptions{
					{URL: u, PublicKey: fixtures.ArkoseGlobalKey},
					{URL: u, PublicKey: fixtures.ArkosePublicKey},
				}, d.FunCaptcha)
			},
		},
		{
			name:   "mixed",
			markup: fixtures.MixedPage,
			check: func(t *testing.T, d Detection) {
				assert.Len(t, d.RecaptchaV2, 1)
				assert.Len(t, d.HCaptcha, 1)
				assert.Len(t, d.Turnstile, 1)
				assert.Len(t, d.FunCaptcha, 1)
				require.Len(t, d.RecaptchaV3, 1)
				assert.True(t, d.RecaptchaV3[0].Enterprise)
				assert.Equal(t, 5, d.Count())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DetectHTML(u, tt.markup, tt.globals)
			require.NoError(t, err)
			assert.Equal(t, u, d.URL)
			tt.check(t, d)
		})
	}
}

func TestRecaptchaV3FromScript(t *testing.T) {
	tests := []struct {
		src string
		ok  bool
	}{
		{"https://www.google.com/recaptcha/api.js?render=abc", true},
		{"https://www.recaptcha.net/recaptcha/enterprise.js?render=abc", true},
		{"https://www.google.com/recaptcha/api.js?render=explicit", false},
		{"https://www.google.com/recaptcha/api.js", false},
		{"https://www.google.com/recaptcha/api2/anchor?k=abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, ok := recaptchaV3FromScript("u", tt.src)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func loadedPage(t *testing.T, markup string, eval mocks.EvaluateFunc) *mocks.MockPage {
	t.Helper()
	page := mocks.NewMockPage("p1").WithContent(markup)
	if eval != nil {
		page.WithEvaluate(eval)
	}
	require.NoError(t, page.Goto(context.Background(), fixtures.PageURL, types.GotoOptions{}))
	return page
}

func TestDetector_EmitsDetected(t *testing.T) {
	bus := events.NewBus(nil)
	rec := testutil.NewEventRecorder(bus)
	page := loadedPage(t, fixtures.FunCaptchaPage, func(fn string, out any, _ ...any) error {
		if fn == globalsScript {
			return mocks.AssignJSON(out, Globals{ArkoseKey: fixtures.ArkoseGlobalKey})
		}
		return nil
	})

	det, err := NewDetector(bus, nil).Detect(testutil.TestContext(t), page)
	require.NoError(t, err)
	assert.Equal(t, 2, det.Count())

	payloads := rec.Payloads(events.CaptchaDetected)
	require.Len(t, payloads, 1)
	ev := payloads[0].(*events.CaptchaEvent)
	assert.Equal(t, fixtures.PageURL, ev.URL)
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, &det, ev.Details)
}

func TestDetector_NothingFound(t *testing.T) {
	bus := events.NewBus(nil)
	rec := testutil.NewEventRecorder(bus)
	page := loadedPage(t, fixtures.BlankPage, nil)

	det, err := NewDetector(bus, nil).Detect(testutil.TestContext(t), page)
	require.NoError(t, err)
	assert.Zero(t, det.Count())
	assert.Zero(t, rec.Count(events.CaptchaDetected))
}

func TestDetector_GlobalsFailureIsNotFatal(t *testing.T) {
	page := loadedPage(t, fixtures.HCaptchaPage, func(string, any, ...any) error {
		return errors.New("execution context was destroyed")
	})

	det, err := NewDetector(nil, nil).Detect(testutil.TestContext(t), page)
	require.NoError(t, err)
	assert.Len(t, det.HCaptcha, 1)
}

func TestDetector_ContentFailure(t *testing.T) {
	page := loadedPage(t, fixtures.HCaptchaPage, nil)
	require.NoError(t, page.Close(context.Background()))

	_, err := NewDetector(nil, nil).Detect(testutil.TestContext(t), page)
	assert.Error(t, err)
}
