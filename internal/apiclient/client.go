// Package apiclient talks to the exposure server: login, report and series
// fetches, with bearer auth, bounded retries and a fixed error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/fireshield/fsclient/internal/api"
	"github.com/fireshield/fsclient/internal/credential"
	"github.com/fireshield/fsclient/internal/logging"
	"github.com/fireshield/fsclient/internal/model"
	"github.com/fireshield/fsclient/internal/retry"
	"github.com/fireshield/fsclient/internal/security"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 2
	DefaultDailyDays   = 7

	maxResponseBytes = 8 << 20
	requestIDHeader  = "X-Request-ID"
)

type Client struct {
	base   *url.URL
	store  credential.Store
	client *http.Client
	policy retry.Policy
	logger hclog.Logger

	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the transport. Its Timeout is kept when set and
// no WithTimeout is given; a client without one gets DefaultTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds each individual attempt, whatever order it is given in
// relative to WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry overrides attempts and delay. The classifier is always Retryable.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.policy.MaxAttempts = maxAttempts
		c.policy.Delay = delay
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNull(l).Named("apiclient")
	}
}

func New(baseURL string, store credential.Store, opts ...Option) (*Client, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	c := &Client{
		base:   base,
		store:  store,
		client: &http.Client{Timeout: DefaultTimeout},
		policy: retry.Policy{MaxAttempts: DefaultMaxAttempts, Retryable: Retryable},
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Retryable = Retryable

	timeout := c.timeout
	if timeout == 0 && c.client.Timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		clone := *c.client
		clone.Timeout = timeout
		c.client = &clone
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Endpoint joins the base and a relative path with exactly one slash between
// them, keeping any path prefix on the base.
func (c *Client) Endpoint(path string, query url.Values) string {
	u := *c.base
	basePath := strings.TrimRight(u.Path, "/")
	rel := strings.TrimLeft(path, "/")
	u.Path = basePath + "/" + rel
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResult, error) {
	body, err := c.request(ctx, http.MethodPost, "auth/login", nil, api.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}, false)
	if err != nil {
		return model.AuthResult{}, err
	}
	var resp api.AuthResponse
	if err := decode(body, &resp); err != nil {
		return model.AuthResult{}, fmt.Errorf("decode login response: %w", err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return model.AuthResult{}, fmt.Errorf("decode login response: %w", &DecodeError{
			Detail: "missing token",
			Body:   security.RedactBody(body, security.DefaultBodyLimit),
		})
	}
	if err := c.store.Set(ctx, resp.Token); err != nil {
		return model.AuthResult{}, fmt.Errorf("store credential: %w", err)
	}
	c.logger.Info("logged in", "user_id", resp.UserID)
	return model.AuthResult{
		Token:       resp.Token,
		UserID:      resp.UserID,
		DisplayName: resp.DisplayName,
		Email:       resp.Email,
	}, nil
}

func (c *Client) FetchReport(ctx context.Context, windowHours int) (model.Report, error) {
	query := url.Values{}
	query.Set("hours", strconv.Itoa(windowHours))
	body, err := c.request(ctx, http.MethodGet, "insights/report", query, nil, true)
	if err != nil {
		return model.Report{}, err
	}
	var resp api.InsightsReport
	if err := decode(body, &resp); err != nil {
		return model.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return reportFromAPI(resp), nil
}

func (c *Client) FetchSeries(ctx context.Context, windowHours int, bucket model.Bucket) ([]model.TimePoint, error) {
	query := url.Values{}
	query.Set("hours", strconv.Itoa(windowHours))
	query.Set("bucket", string(model.NormalizeBucket(string(bucket))))
	return c.fetchSeries(ctx, "series", query)
}

// FetchDailySeries returns one point per day for the last days days.
func (c *Client) FetchDailySeries(ctx context.Context, days int) ([]model.TimePoint, error) {
	if days <= 0 {
		days = DefaultDailyDays
	}
	query := url.Values{}
	query.Set("days", strconv.Itoa(days))
	return c.fetchSeries(ctx, "series/daily", query)
}

func (c *Client) fetchSeries(ctx context.Context, path string, query url.Values) ([]model.TimePoint, error) {
	body, err := c.request(ctx, http.MethodGet, path, query, nil, true)
	if err != nil {
		return nil, err
	}
	var resp []api.TimePoint
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	points := make([]model.TimePoint, 0, len(resp))
	for _, p := range resp {
		points = append(points, model.TimePoint{Timestamp: p.TS, TVOCPPB: p.TVOCPPB})
	}
	return model.SortSeries(points), nil
}

// Logout forgets the credential. There is no server-side session to end.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

func (c *Client) HasCredential(ctx context.Context) bool {
	token, ok, err := c.store.Get(ctx)
	return err == nil && ok && token != ""
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, authenticated bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = buf.Bytes()
	}
	target := c.Endpoint(path, query)
	requestID := uuid.NewString()

	var out []byte
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		// Read on every attempt so a logout between attempts is honoured.
		token := ""
		if authenticated {
			t, ok, err := c.store.Get(ctx)
			if err != nil || !ok || t == "" {
				return ErrUnauthenticated
			}
			token = t
		}
		resp, err := c.do(ctx, method, target, payload, token, requestID)
		if err != nil {
			c.logger.Debug("request failed", "method", method, "path", path, "attempt", attempt, "request_id", requestID, "error", err)
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte, token, requestID string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	}
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       security.RedactBody(bytes.TrimSpace(data), security.DefaultBodyLimit),
	}
	var er api.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Code != "" {
		httpErr.Code = er.Error.Code
		httpErr.Body = security.RedactPayload(er.Error.Message)
	}
	return nil, httpErr
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{
			Detail: err.Error(),
			Body:   security.RedactBody(body, security.DefaultBodyLimit),
		}
	}
	return nil
}

func reportFromAPI(in api.InsightsReport) model.Report {
	return model.Report{
		WindowHours: in.WindowHours,
		Metrics:     model.NewMetrics(in.Metrics),
		AIReport: model.AIReport{
			Summary:          in.AIReport.Summary,
			RiskScore:        in.AIReport.RiskScore,
			KeyFindings:      in.AIReport.KeyFindings,
			Recommendations:  in.AIReport.Recommendations,
			DeconChecklist:   in.AIReport.DeconChecklist,
			PolicySuggestion: in.AIReport.PolicySuggestion,
		},
		Model:  in.Model,
		Source: in.Source,
	}
}
