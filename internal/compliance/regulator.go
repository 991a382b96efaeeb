package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// Report is what gets filed with the regulator.
type Report struct {
	IdempotencyKey string           `json:"idempotency_key"`
	Type           model.ReportType `json:"report_type"`
	TransactionID  string           `json:"transaction_id,omitempty"`
	Period         string           `json:"period,omitempty"`
	Payload        json.RawMessage  `json:"payload"`
}

// Regulator accepts compliance reports. Implementations dedupe on
// IdempotencyKey and return the regulator's reference for the filing.
// Errors wrapping common.ErrTerminalExternal are not retried.
type Regulator interface {
	Submit(ctx context.Context, report Report) (string, error)
}

// HTTPRegulatorConfig holds the regulator endpoint and OAuth2 client credentials.
type HTTPRegulatorConfig struct {
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// HTTPRegulator files reports as JSON over HTTP.
type HTTPRegulator struct {
	httpClient *http.Client
	endpoint   string
}

// NewHTTPRegulator creates a regulator client. When TokenURL is set, requests
// carry a bearer token from the OAuth2 client credentials flow.
func NewHTTPRegulator(ctx context.Context, cfg HTTPRegulatorConfig) (*HTTPRegulator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: regulator endpoint is required", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	client := base
	if cfg.TokenURL != "" {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("%w: regulator client id and secret are required with a token url", common.ErrMissingConfig)
		}
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = creds.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = timeout
	}

	return &HTTPRegulator{
		httpClient: client,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

type submitResponse struct {
	Reference string `json:"reference"`
}

// Submit posts the report to <endpoint>/reports.
func (r *HTTPRegulator) Submit(ctx context.Context, report Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal report: %w", common.ErrTerminalExternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/reports", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", common.ErrTerminalExternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", report.IdempotencyKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %w", common.ErrTransientExternal, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", common.ErrTransientExternal, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return "", fmt.Errorf("%w: regulator returned %d: %s", common.ErrTransientExternal, resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: regulator returned %d: %s", common.ErrTerminalExternal, resp.StatusCode, string(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: unexpected status %d", common.ErrTerminalExternal, resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %w", common.ErrTerminalExternal, err)
	}
	if parsed.Reference == "" {
		return "", fmt.Errorf("%w: response has no reference", common.ErrTerminalExternal)
	}
	return parsed.Reference, nil
}
