package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/BaSui01/browserflow/internal/tlsutil"
)

const userAgent = "BrowserFlow-Captcha/1.0"

var dataURLPrefix = regexp.MustCompile(`^data:image/(png|jpeg|jpg);base64,`)

// apiClient is the HTTP plumbing shared by the solvers: resty for request
// building, a retrying transport underneath and a per-solver limiter.
type apiClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

func newAPIClient(baseURL string, cfg SolverConfig) *apiClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil
	retryClient.HTTPClient.Transport = tlsutil.SecureTransport()

	rc := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)

	return &apiClient{resty: rc, limiter: newLimiter(cfg.RateLimit)}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// request waits for the limiter and returns a request bound to ctx.
func (c *apiClient) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}

// execute sends req and decodes the JSON body into out.
func execute(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// download fetches an absolute URL and returns the body base64 encoded.
func (c *apiClient) download(ctx context.Context, url string) (string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	resp, err := req.Get(url)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("download image: unexpected status %d", resp.StatusCode())
	}
	return base64.StdEncoding.EncodeToString(resp.Body()), nil
}

func stripDataURL(image string) string {
	return dataURLPrefix.ReplaceAllString(image, "")
}

// flexString decodes a JSON string or number into its textual form.
// 2captcha returns the balance as a string and some errors as numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
