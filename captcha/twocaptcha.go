package captcha

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/types"
)

// DefaultTwoCaptchaURL is the 2captcha API root.
const DefaultTwoCaptchaURL = "https://2captcha.com/"

const twoCaptchaNotReady = "CAPCHA_NOT_READY"

// TwoCaptchaSolver talks to the 2captcha form API.
type TwoCaptchaSolver struct {
	cfg    SolverConfig
	client *apiClient
	logger *zap.Logger
}

type twoCaptchaResponse struct {
	Status  int        `json:"status"`
	Request flexString `json:"request"`
}

// NewTwoCaptchaSolver validates cfg and builds a solver.
func NewTwoCaptchaSolver(cfg SolverConfig, logger *zap.Logger) (*TwoCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("2Captcha: %w", ErrAPIKeyRequired)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTwoCaptchaURL
	}
	return &TwoCaptchaSolver{
		cfg:    cfg,
		client: newAPIClient(cfg.APIURL, cfg),
		logger: logger.With(zap.String("component", "captcha_solver"), zap.String("service", string(ServiceTwoCaptcha))),
	}, nil
}

func (s *TwoCaptchaSolver) Name() string { return string(ServiceTwoCaptcha) }

// GetBalance returns the account balance.
func (s *TwoCaptchaSolver) GetBalance(ctx context.Context) (float64, error) {
	resp, err := s.res(ctx, map[string]string{"action": "getbalance"})
	if err != nil {
		s.logger.Error("error getting balance", zap.Error(err))
		return 0, err
	}
	if resp.Status != 1 {
		return 0, types.NewError(types.ErrCaptchaFailed, "Failed to get balance: "+string(resp.Request))
	}
	balance, err := strconv.ParseFloat(string(resp.Request), 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", resp.Request, err)
	}
	return balance, nil
}

// Solve creates a task and polls until it is solved or the timeout passes.
func (s *TwoCaptchaSolver) Solve(ctx context.Context, req Request) (Solution, error) {
	if err := req.validate(); err != nil {
		return Solution{}, err
	}
	id, err := s.createTask(ctx, req)
	if err != nil {
		s.logger.Error("error solving captcha", zap.String("type", string(req.Type)), zap.Error(err))
		return Solution{}, err
	}
	s.logger.Debug("task created", zap.String("task_id", id))

	token, err := s.waitForResult(ctx, id)
	if err != nil {
		s.logger.Error("error solving captcha", zap.String("type", string(req.Type)), zap.String("task_id", id), zap.Error(err))
		return Solution{}, err
	}
	return Solution{Token: token, ID: id, Expiration: time.Now().Add(SolutionTTL)}, nil
}

// ReportIncorrect reports a bad solution. Transport failures are logged and
// reported as false.
func (s *TwoCaptchaSolver) ReportIncorrect(ctx context.Context, id string) (bool, error) {
	resp, err := s.res(ctx, map[string]string{"action": "reportbad", "id": id})
	if err != nil {
		s.logger.Error("error reporting incorrect solution", zap.String("task_id", id), zap.Error(err))
		return false, err
	}
	return resp.Status == 1, nil
}

// taskParams maps a request onto in.php parameters.
func (s *TwoCaptchaSolver) taskParams(req Request) (map[string]string, error) {
	p := map[string]string{}
	switch o := req.Options.(type) {
	case RecaptchaV2Options:
		p["method"] = "userrecaptcha"
		p["googlekey"] = o.SiteKey
		p["pageurl"] = o.URL
		if o.Invisible {
			p["invisible"] = "1"
		}
		if o.Enterprise {
			p["enterprise"] = "1"
		}
		if o.S != "" {
			p["data_s"] = o.S
		}
	case RecaptchaV3Options:
		p["method"] = "userrecaptcha"
		p["googlekey"] = o.SiteKey
		p["pageurl"] = o.URL
		p["version"] = "v3"
		p["action"] = o.Action
		if o.Score != 0 {
			p["min_score"] = strconv.FormatFloat(o.Score, 'f', -1, 64)
		}
		if o.Enterprise {
			p["enterprise"] = "1"
		}
	case HCaptchaOptions:
		p["method"] = "hcaptcha"
		p["sitekey"] = o.SiteKey
		p["pageurl"] = o.URL
		if o.Enterprise {
			p["enterprise"] = "1"
		}
	case ImageCaptchaOptions:
		if strings.HasPrefix(o.Image, "http") {
			p["method"] = "post"
			p["file"] = o.Image
		} else {
			p["method"] = "base64"
			p["body"] = stripDataURL(o.Image)
		}
		if o.CaseSensitive {
			p["case"] = "1"
		}
		if o.Length > 0 {
			p["length"] = strconv.Itoa(o.Length)
		}
	case FunCaptchaOptions:
		p["method"] = "funcaptcha"
		p["publickey"] = o.PublicKey
		p["pageurl"] = o.URL
		for k, v := range o.Data {
			p["data["+k+"]"] = v
		}
	case TurnstileOptions:
		p["method"] = "turnstile"
		p["sitekey"] = o.SiteKey
		p["pageurl"] = o.URL
		if o.Action != "" {
			p["action"] = o.Action
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.Type)
	}
	return p, nil
}

func (s *TwoCaptchaSolver) createTask(ctx context.Context, req Request) (string, error) {
	params, err := s.taskParams(req)
	if err != nil {
		return "", err
	}
	params["key"] = s.cfg.APIKey
	params["json"] = "1"

	r, err := s.client.request(ctx)
	if err != nil {
		return "", err
	}
	var resp twoCaptchaResponse
	if err := execute(r.SetFormData(params), http.MethodPost, "in.php", &resp); err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", types.NewError(types.ErrCaptchaFailed, "Failed to create task: "+string(resp.Request))
	}
	return string(resp.Request), nil
}

func (s *TwoCaptchaSolver) waitForResult(ctx context.Context, id string) (string, error) {
	deadline := time.Now().Add(s.cfg.DefaultTimeout)
	for time.Now().Before(deadline) {
		if err := sleep(ctx, s.cfg.PollingInterval); err != nil {
			return "", err
		}
		resp, err := s.res(ctx, map[string]string{"action": "get", "id": id})
		if err != nil {
			return "", err
		}
		if resp.Status == 1 {
			return string(resp.Request), nil
		}
		if resp.Request != twoCaptchaNotReady {
			return "", types.NewError(types.ErrCaptchaFailed, "Failed to get result: "+string(resp.Request))
		}
	}
	return "", timeoutError(s.cfg.DefaultTimeout)
}

// res issues a GET against res.php with the key and json=1 added.
func (s *TwoCaptchaSolver) res(ctx context.Context, params map[string]string) (twoCaptchaResponse, error) {
	var resp twoCaptchaResponse
	r, err := s.client.request(ctx)
	if err != nil {
		return resp, err
	}
	r.SetQueryParam("key", s.cfg.APIKey).SetQueryParam("json", "1").SetQueryParams(params)
	err = execute(r, http.MethodGet, "res.php", &resp)
	return resp, err
}

func timeoutError(d time.Duration) error {
	return types.NewError(types.ErrCaptchaTimeout,
		fmt.Sprintf("Timeout waiting for captcha solution (%gs)", d.Seconds())).WithRetryable(true)
}
