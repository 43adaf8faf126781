package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"telegram-image-generation/internal/config"
	"telegram-image-generation/internal/domain/ports/adapter"
)

var _ adapter.ProviderClient = (*Client)(nil)

// Client talks to the prediction-style generation gateway. Submissions POST
// to a per-model path; status polls GET the prediction resource until the
// upstream reaches a terminal state.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	log    zerolog.Logger
}

func NewClient(cfg *config.ProviderConfig, log zerolog.Logger) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("provider api key empty")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.wavespeed.ai/api/v3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "provider-client").Logger(),
	}, nil
}

// envelope is the common response wrapper. Providers are inconsistent about
// where they put the error text, so every known field is captured.
type envelope struct {
	Data struct {
		ID      string   `json:"id"`
		Status  string   `json:"status"`
		Outputs []string `json:"outputs"`
		Error   string   `json:"error"`
		Balance float64  `json:"balance"`
	} `json:"data"`
	ErrorMessage string `json:"error_message"`
	Error        string `json:"error"`
	Detail       string `json:"detail"`
	Message      string `json:"message"`
}

func (e *envelope) errorText() string {
	for _, s := range []string{e.Data.Error, e.ErrorMessage, e.Error, e.Detail, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*envelope, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return nil, fmt.Errorf("provider %s %s: decode: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		msg := env.errorText()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &env, fmt.Errorf("provider %s %s: http %d: %s", method, path, resp.StatusCode, msg)
	}
	return &env, nil
}

// Submit starts one generation on the given model path. payload carries the
// model-specific parameter set assembled by the dispatcher.
func (c *Client) Submit(ctx context.Context, modelPath string, payload map[string]interface{}) (*adapter.Submission, error) {
	env, err := c.do(ctx, http.MethodPost, "/"+strings.TrimLeft(modelPath, "/"), payload)
	if err != nil {
		return nil, err
	}
	if env.Data.ID == "" && len(env.Data.Outputs) == 0 {
		return nil, errors.New("provider returned neither job id nor outputs")
	}
	return &adapter.Submission{JobID: env.Data.ID, Outputs: env.Data.Outputs}, nil
}

// GetPrediction fetches one poll snapshot. Transient transport failures are
// retried briefly; the poller treats a final error here as one failed tick,
// not a failed generation.
func (c *Client) GetPrediction(ctx context.Context, upstreamID string) (*adapter.Prediction, error) {
	var env *envelope
	op := func() error {
		var err error
		env, err = c.do(ctx, http.MethodGet, "/predictions/"+upstreamID+"/result", nil)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return &adapter.Prediction{
		Status:  env.Data.Status,
		Outputs: env.Data.Outputs,
		Error:   env.errorText(),
	}, nil
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	env, err := c.do(ctx, http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, err
	}
	return env.Data.Balance, nil
}
