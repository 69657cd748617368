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

// DefaultAntiCaptchaURL is the anti-captcha API root.
const DefaultAntiCaptchaURL = "https://api.anti-captcha.com"

const defaultMinScore = 0.3

// AntiCaptchaSolver talks to the anti-captcha JSON API.
type AntiCaptchaSolver struct {
	cfg    SolverConfig
	client *apiClient
	logger *zap.Logger
}

type antiCaptchaSolution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
	Token              string `json:"token"`
	Text               string `json:"text"`
}

type antiCaptchaResponse struct {
	ErrorID          int                  `json:"errorId"`
	ErrorCode        string               `json:"errorCode,omitempty"`
	ErrorDescription string               `json:"errorDescription,omitempty"`
	TaskID           int64                `json:"taskId,omitempty"`
	Status           string               `json:"status,omitempty"`
	Balance          float64              `json:"balance,omitempty"`
	Solution         *antiCaptchaSolution `json:"solution,omitempty"`
}

// NewAntiCaptchaSolver validates cfg and builds a solver.
func NewAntiCaptchaSolver(cfg SolverConfig, logger *zap.Logger) (*AntiCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anti-Captcha: %w", ErrAPIKeyRequired)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAntiCaptchaURL
	}
	return &AntiCaptchaSolver{
		cfg:    cfg,
		client: newAPIClient(cfg.APIURL, cfg),
		logger: logger.With(zap.String("component", "captcha_solver"), zap.String("service", string(ServiceAntiCaptcha))),
	}, nil
}

func (s *AntiCaptchaSolver) Name() string { return string(ServiceAntiCaptcha) }

func (s *AntiCaptchaSolver) GetBalance(ctx context.Context) (float64, error) {
	resp, err := s.post(ctx, "/getBalance", map[string]any{"clientKey": s.cfg.APIKey})
	if err != nil {
		s.logger.Error("error getting balance", zap.Error(err))
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, types.NewError(types.ErrCaptchaFailed, "Failed to get balance: "+resp.ErrorDescription)
	}
	return resp.Balance, nil
}

func (s *AntiCaptchaSolver) Solve(ctx context.Context, req Request) (Solution, error) {
	if err := req.validate(); err != nil {
		return Solution{}, err
	}
	taskID, err := s.createTask(ctx, req)
	if err != nil {
		s.logger.Error("error solving captcha", zap.String("type", string(req.Type)), zap.Error(err))
		return Solution{}, err
	}
	s.logger.Debug("task created", zap.Int64("task_id", taskID))

	token, err := s.waitForResult(ctx, taskID)
	if err != nil {
		s.logger.Error("error solving captcha", zap.String("type", string(req.Type)), zap.Int64("task_id", taskID), zap.Error(err))
		return Solution{}, err
	}
	return Solution{
		Token:      token,
		ID:         strconv.FormatInt(taskID, 10),
		Expiration: time.Now().Add(SolutionTTL),
	}, nil
}

// ReportIncorrect reports a bad image captcha solution. id must be the
// numeric task ID returned in Solution.ID.
func (s *AntiCaptchaSolver) ReportIncorrect(ctx context.Context, id string) (bool, error) {
	taskID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	resp, err := s.post(ctx, "/reportIncorrectImageCaptcha", map[string]any{
		"clientKey": s.cfg.APIKey,
		"taskId":    taskID,
	})
	if err != nil {
		s.logger.Error("error reporting incorrect solution", zap.String("task_id", id), zap.Error(err))
		return false, err
	}
	return resp.ErrorID == 0, nil
}

// task maps a request onto an anti-captcha task object.
func (s *AntiCaptchaSolver) task(ctx context.Context, req Request) (map[string]any, error) {
	var task map[string]any
	switch o := req.Options.(type) {
	case RecaptchaV2Options:
		typ := "NoCaptchaTaskProxyless"
		if o.Invisible {
			typ = "RecaptchaV2TaskProxyless"
		}
		task = map[string]any{"type": typ, "websiteURL": o.URL, "websiteKey": o.SiteKey}
		if o.Enterprise {
			task["isEnterprise"] = true
		}
		if o.S != "" {
			task["recaptchaDataSValue"] = o.S
		}
	case RecaptchaV3Options:
		score := o.Score
		if score == 0 {
			score = defaultMinScore
		}
		task = map[string]any{
			"type":       "RecaptchaV3TaskProxyless",
			"websiteURL": o.URL,
			"websiteKey": o.SiteKey,
			"minScore":   score,
			"pageAction": o.Action,
		}
		if o.Enterprise {
			task["isEnterprise"] = true
		}
	case HCaptchaOptions:
		task = map[string]any{"type": "HCaptchaTaskProxyless", "websiteURL": o.URL, "websiteKey": o.SiteKey}
		if o.Enterprise {
			task["isEnterprise"] = true
		}
	case ImageCaptchaOptions:
		task = map[string]any{"type": "ImageToTextTask"}
		if strings.HasPrefix(o.Image, "http") {
			body, err := s.client.download(ctx, o.Image)
			if err != nil {
				return nil, err
			}
			task["body"] = body
		} else {
			task["body"] = stripDataURL(o.Image)
		}
		if o.CaseSensitive {
			task["case"] = true
		}
		if o.Length > 0 {
			task["length"] = o.Length
		}
	case FunCaptchaOptions:
		task = map[string]any{"type": "FunCaptchaTaskProxyless", "websiteURL": o.URL, "websitePublicKey": o.PublicKey}
		if sub := o.Data["subdomain"]; sub != "" {
			task["funcaptchaApiJSSubdomain"] = sub
		}
		if blob := o.Data["blob"]; blob != "" {
			task["data"] = map[string]string{"blob": blob}
		}
	case TurnstileOptions:
		task = map[string]any{"type": "TurnstileTaskProxyless", "websiteURL": o.URL, "websiteKey": o.SiteKey}
		if o.Action != "" {
			task["action"] = o.Action
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.Type)
	}
	return task, nil
}

func (s *AntiCaptchaSolver) createTask(ctx context.Context, req Request) (int64, error) {
	task, err := s.task(ctx, req)
	if err != nil {
		return 0, err
	}
	resp, err := s.post(ctx, "/createTask", map[string]any{"clientKey": s.cfg.APIKey, "task": task})
	if err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, types.NewError(types.ErrCaptchaFailed, "Failed to create task: "+resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (s *AntiCaptchaSolver) waitForResult(ctx context.Context, taskID int64) (string, error) {
	deadline := time.Now().Add(s.cfg.DefaultTimeout)
	for time.Now().Before(deadline) {
		if err := sleep(ctx, s.cfg.PollingInterval); err != nil {
			return "", err
		}
		resp, err := s.post(ctx, "/getTaskResult", map[string]any{"clientKey": s.cfg.APIKey, "taskId": taskID})
		if err != nil {
			return "", err
		}
		if resp.ErrorID != 0 {
			return "", types.NewError(types.ErrCaptchaFailed, "Failed to get result: "+resp.ErrorDescription)
		}
		if resp.Status != "ready" {
			continue
		}
		if sol := resp.Solution; sol != nil {
			switch {
			case sol.GRecaptchaResponse != "":
				return sol.GRecaptchaResponse, nil
			case sol.Token != "":
				return sol.Token, nil
			case sol.Text != "":
				return sol.Text, nil
			}
		}
		return "", types.NewError(types.ErrCaptchaFailed, "Solution format not recognized")
	}
	return "", timeoutError(s.cfg.DefaultTimeout)
}

func (s *AntiCaptchaSolver) post(ctx context.Context, path string, body map[string]any) (antiCaptchaResponse, error) {
	var resp antiCaptchaResponse
	r, err := s.client.request(ctx)
	if err != nil {
		return resp, err
	}
	r.SetHeader("Content-Type", "application/json").SetBody(body)
	err = execute(r, http.MethodPost, path, &resp)
	return resp, err
}
