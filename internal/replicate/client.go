// Package replicate is a minimal HTTP client for the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/model"
)

const DefaultBaseURL = "https://api.replicate.com/v1"

var ErrMissingToken = errors.New("replicate: api token is required")

type Options struct {
	Token          string
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	UserAgent      string
}

type Client struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Detail     string
	RetryAfter string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("replicate: http %d", e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RetryAfter != "" {
		msg += " (retry after " + e.RetryAfter + ")"
	}
	return msg
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return apperr.ErrUnauthorized
	}
	return nil
}

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type predictionResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Output   any             `json:"output"`
	Error    json.RawMessage `json:"error"`
	Logs     string          `json:"logs"`
	Progress *struct {
		Percentage *float64 `json:"percentage"`
	} `json:"progress"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "vidmatrix"
	}
	return &Client{token: token, baseURL: baseURL, userAgent: userAgent, httpClient: httpClient}, nil
}

// Submit creates a prediction. "owner/name:version" targets a version; "owner/name" targets
// the model's latest deployment.
func (c *Client) Submit(ctx context.Context, modelID string, input map[string]any) (model.Prediction, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return model.Prediction{}, errors.New("replicate: model id is required")
	}

	endpoint := c.baseURL + "/predictions"
	body := predictionRequest{Input: input}
	if _, version, ok := strings.Cut(modelID, ":"); ok {
		if version == "" {
			return model.Prediction{}, fmt.Errorf("replicate: empty version in model id %q", modelID)
		}
		body.Version = version
	} else {
		owner, name, ok := strings.Cut(modelID, "/")
		if !ok || owner == "" || name == "" {
			return model.Prediction{}, fmt.Errorf("replicate: model id %q must be owner/name or owner/name:version", modelID)
		}
		endpoint = fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, url.PathEscape(owner), url.PathEscape(name))
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("replicate: encode request: %w", err)
	}
	var decoded predictionResponse
	if err := c.do(ctx, http.MethodPost, endpoint, raw, &decoded); err != nil {
		return model.Prediction{}, err
	}
	zerolog.Ctx(ctx).Debug().Str("model", modelID).Str("prediction_id", decoded.ID).Msg("replicate: prediction created")
	return toPrediction(decoded), nil
}

func (c *Client) Reload(ctx context.Context, id string) (model.Prediction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Prediction{}, errors.New("replicate: prediction id is required")
	}
	var decoded predictionResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil, &decoded); err != nil {
		return model.Prediction{}, err
	}
	return toPrediction(decoded), nil
}

// Cancel asks the API to stop a running prediction.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/predictions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && (detail.Detail != "" || detail.Title != "") {
			apiErr.Detail = strings.TrimSpace(strings.Join(nonEmpty(detail.Title, detail.Detail), ": "))
		} else {
			apiErr.Detail = truncate(strings.TrimSpace(string(raw)), 300)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

func toPrediction(r predictionResponse) model.Prediction {
	p := model.Prediction{
		ID:     r.ID,
		Status: model.PredictionStatus(r.Status),
		Output: r.Output,
		Error:  errorText(r.Error),
		Logs:   r.Logs,
	}
	if r.Progress != nil && r.Progress.Percentage != nil {
		v := *r.Progress.Percentage
		p.Progress = &v
	}
	return p
}

// errorText flattens the API's error field, which is null, a string or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
