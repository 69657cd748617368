package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/browserflow/types"
)

type fakeAntiCaptcha struct {
	mu      sync.Mutex
	tasks   []map[string]any
	results []antiCaptchaResponse
	polls   int
	balance antiCaptchaResponse
	reports []float64
	image   []byte
}

func (f *fakeAntiCaptcha) handler(t *testing.T) http.Handler {
	decode := func(r *http.Request) map[string]any {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-key", body["clientKey"])
		return body
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		body := decode(r)
		task, _ := body["task"].(map[string]any)
		f.mu.Lock()
		f.tasks = append(f.tasks, task)
		f.mu.Unlock()
		writeJSON(w, antiCaptchaResponse{TaskID: 7654321})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		body := decode(r)
		assert.EqualValues(t, 7654321, body["taskId"])
		f.mu.Lock()
		defer f.mu.Unlock()
		i := min(f.polls, len(f.results)-1)
		f.polls++
		writeJSON(w, f.results[i])
	})
	mux.HandleFunc("/getBalance", func(w http.ResponseWriter, r *http.Request) {
		decode(r)
		writeJSON(w, f.balance)
	})
	mux.HandleFunc("/reportIncorrectImageCaptcha", func(w http.ResponseWriter, r *http.Request) {
		body := decode(r)
		f.mu.Lock()
		f.reports = append(f.reports, body["taskId"].(float64))
		f.mu.Unlock()
		writeJSON(w, antiCaptchaResponse{})
	})
	mux.HandleFunc("/captcha.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(f.image)
	})
	return mux
}

func newAntiCaptcha(t *testing.T, f *fakeAntiCaptcha) (*AntiCaptchaSolver, string) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	s, err := NewAntiCaptchaSolver(fastConfig(srv.URL), nil)
	require.NoError(t, err)
	return s, srv.URL
}

func ready(sol antiCaptchaSolution) antiCaptchaResponse {
	return antiCaptchaResponse{Status: "ready", Solution: &sol}
}

func TestAntiCaptcha_RequiresAPIKey(t *testing.T) {
	_, err := NewAntiCaptchaSolver(SolverConfig{}, nil)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	s, err := NewAntiCaptchaSolver(SolverConfig{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAntiCaptchaURL, s.cfg.APIURL)
	assert.Equal(t, "anticaptcha", s.Name())
}

func TestAntiCaptcha_GetBalance(t *testing.T) {
	s, _ := newAntiCaptcha(t, &fakeAntiCaptcha{balance: antiCaptchaResponse{Balance: 3.5}})
	balance, err := s.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.5, balance, 1e-9)

	s, _ = newAntiCaptcha(t, &fakeAntiCaptcha{balance: antiCaptchaResponse{ErrorID: 1, ErrorDescription: "Account authorization key not found"}})
	_, err = s.GetBalance(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Failed to get balance: Account authorization key not found", err.Error())
}

func TestAntiCaptcha_SolveSolutionShapes(t *testing.T) {
	tests := []struct {
		name     string
		solution antiCaptchaSolution
		want     string
	}{
		{"recaptcha response", antiCaptchaSolution{GRecaptchaResponse: "g-token"}, "g-token"},
		{"token", antiCaptchaSolution{Token: "t-token"}, "t-token"},
		{"text", antiCaptchaSolution{Text: "x7k2"}, "x7k2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAntiCaptcha{results: []antiCaptchaResponse{{Status: "processing"}, ready(tt.solution)}}
			s, _ := newAntiCaptcha(t, f)

			sol, err := s.Solve(context.Background(), NewRequest(RecaptchaV2Options{URL: "https://example.com", SiteKey: "k"}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sol.Token)
			assert.Equal(t, "7654321", sol.ID)
			assert.Equal(t, 2, f.polls)
		})
	}
}

func TestAntiCaptcha_SolveErrors(t *testing.T) {
	t.Run("task error", func(t *testing.T) {
		f := &fakeAntiCaptcha{results: []antiCaptchaResponse{{ErrorID: 12, ErrorDescription: "Captcha could not be solved"}}}
		s, _ := newAntiCaptcha(t, f)
		_, err := s.Solve(context.Background(), NewRequest(HCaptchaOptions{URL: "u", SiteKey: "k"}))
		require.Error(t, err)
		assert.Equal(t, "Failed to get result: Captcha could not be solved", err.Error())
	})

	t.Run("unrecognised solution", func(t *testing.T) {
		f := &fakeAntiCaptcha{results: []antiCaptchaResponse{ready(antiCaptchaSolution{})}}
		s, _ := newAntiCaptcha(t, f)
		_, err := s.Solve(context.Background(), NewRequest(HCaptchaOptions{URL: "u", SiteKey: "k"}))
		require.Error(t, err)
		assert.Equal(t, "Solution format not recognized", err.Error())
		assert.True(t, types.IsErrorCode(err, types.ErrCaptchaFailed))
	})
}

func TestAntiCaptcha_Tasks(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want map[string]any
	}{
		{
			name: "recaptcha v2",
			opts: RecaptchaV2Options{URL: "u", SiteKey: "k"},
			want: map[string]any{"type": "NoCaptchaTaskProxyless", "websiteURL": "u", "websiteKey": "k"},
		},
		{
			name: "invisible enterprise recaptcha v2",
			opts: RecaptchaV2Options{URL: "u", SiteKey: "k", Invisible: true, Enterprise: true, S: "s"},
			want: map[string]any{
				"type": "RecaptchaV2TaskProxyless", "websiteURL": "u", "websiteKey": "k",
				"isEnterprise": true, "recaptchaDataSValue": "s",
			},
		},
		{
			name: "recaptcha v3 default score",
			opts: RecaptchaV3Options{URL: "u", SiteKey: "k", Action: "login"},
			want: map[string]any{
				"type": "RecaptchaV3TaskProxyless", "websiteURL": "u", "websiteKey": "k",
				"minScore": 0.3, "pageAction": "login",
			},
		},
		{
			name: "hcaptcha",
			opts: HCaptchaOptions{URL: "u", SiteKey: "k", Enterprise: true},
			want: map[string]any{"type": "HCaptchaTaskProxyless", "websiteURL": "u", "websiteKey": "k", "isEnterprise": true},
		},
		{
			name: "image base64",
			opts: ImageCaptchaOptions{Image: "data:image/jpeg;base64,/9j/4AAQ", CaseSensitive: true, Length: 6},
			want: map[string]any{"type": "ImageToTextTask", "body": "/9j/4AAQ", "case": true, "length": float64(6)},
		},
		{
			name: "funcaptcha",
			opts: FunCaptchaOptions{URL: "u", PublicKey: "pk", Data: map[string]string{"subdomain": "client-api.arkoselabs.com", "blob": "b"}},
			want: map[string]any{
				"type": "FunCaptchaTaskProxyless", "websiteURL": "u", "websitePublicKey": "pk",
				"funcaptchaApiJSSubdomain": "client-api.arkoselabs.com", "data": map[string]any{"blob": "b"},
			},
		},
		{
			name: "turnstile",
			opts: TurnstileOptions{URL: "u", SiteKey: "k", Action: "a"},
			want: map[string]any{"type": "TurnstileTaskProxyless", "websiteURL": "u", "websiteKey": "k", "action": "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAntiCaptcha{results: []antiCaptchaResponse{ready(antiCaptchaSolution{Token: "ok"})}}
			s, _ := newAntiCaptcha(t, f)

			_, err := s.Solve(context.Background(), NewRequest(tt.opts))
			require.NoError(t, err)
			require.Len(t, f.tasks, 1)
			assert.Equal(t, tt.want, f.tasks[0])
		})
	}
}

func TestAntiCaptcha_ImageURLIsDownloaded(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	f := &fakeAntiCaptcha{image: png, results: []antiCaptchaResponse{ready(antiCaptchaSolution{Text: "abc"})}}
	s, base := newAntiCaptcha(t, f)

	sol, err := s.Solve(context.Background(), NewRequest(ImageCaptchaOptions{Image: base + "/captcha.png"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", sol.Token)
	require.Len(t, f.tasks, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), f.tasks[0]["body"])
}

func TestAntiCaptcha_ReportIncorrect(t *testing.T) {
	f := &fakeAntiCaptcha{}
	s, _ := newAntiCaptcha(t, f)

	ok, err := s.ReportIncorrect(context.Background(), "7654321")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{7654321}, f.reports)

	_, err = s.ReportIncorrect(context.Background(), "not-a-number")
	assert.Error(t, err)
}
