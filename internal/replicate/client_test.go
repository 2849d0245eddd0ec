package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/generation"
	"vidmatrix/internal/model"
)

var (
	_ generation.Provider = (*Client)(nil)
	_ generation.Canceler = (*Client)(nil)
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{Token: "r8_test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, &calls
}

func TestSubmitWithVersion(t *testing.T) {
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc123","status":"starting","output":null,"error":null,"logs":""}`))
	})

	pred, err := client.Submit(context.Background(), "lightricks/ltx-video:8c47da66", map[string]any{"prompt": "p", "num_frames": 121})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if pred.ID != "abc123" || pred.Status != model.PredictionStarting || pred.Error != "" {
		t.Fatalf("unexpected prediction: %+v", pred)
	}

	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/v1/predictions" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Bearer r8_test" {
		t.Fatalf("unexpected auth header %q", got.auth)
	}
	if got.body["version"] != "8c47da66" {
		t.Fatalf("expected version in body, got %#v", got.body)
	}
	input, _ := got.body["input"].(map[string]any)
	if input["prompt"] != "p" || input["num_frames"] != float64(121) {
		t.Fatalf("unexpected input: %#v", input)
	}
}

func TestSubmitWithoutVersionUsesModelEndpoint(t *testing.T) {
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m1","status":"starting"}`))
	})

	if _, err := client.Submit(context.Background(), "kwaivgi/kling-v2.1", map[string]any{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	got := (*calls)[0]
	if got.path != "/v1/models/kwaivgi/kling-v2.1/predictions" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if _, ok := got.body["version"]; ok {
		t.Fatalf("version must be omitted for model endpoint, got %#v", got.body)
	}

	if _, err := client.Submit(context.Background(), "no-owner", map[string]any{}); err == nil {
		t.Fatalf("expected error for malformed model id")
	}
}

func TestReloadDecodesOutputAndErrors(t *testing.T) {
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"abc123","status":"succeeded","output":["https://replicate.delivery/x.mp4"],"logs":"100%","error":null}`))
	})

	pred, err := client.Reload(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if (*calls)[0].path != "/v1/predictions/abc123" || (*calls)[0].method != http.MethodGet {
		t.Fatalf("unexpected request %+v", (*calls)[0])
	}
	list, ok := pred.Output.([]any)
	if !ok || len(list) != 1 || list[0] != "https://replicate.delivery/x.mp4" {
		t.Fatalf("unexpected output %#v", pred.Output)
	}
	if pred.Status != model.PredictionSucceeded || pred.Logs != "100%" {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestErrorText(t *testing.T) {
	cases := map[string]string{
		``:                        "",
		`null`:                    "",
		`"CUDA out of memory"`:    "CUDA out of memory",
		`{"code":"E1","msg":"x"}`: `{"code":"E1","msg":"x"}`,
	}
	for in, want := range cases {
		if got := errorText(json.RawMessage(in)); got != want {
			t.Fatalf("errorText(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestAPIErrors(t *testing.T) {
	cases := []struct {
		status       int
		body         string
		unauthorized bool
		contains     string
	}{
		{http.StatusUnauthorized, `{"title":"Unauthenticated","detail":"You did not pass a valid authentication token"}`, true, "http 401"},
		{http.StatusForbidden, `forbidden`, true, "http 403"},
		{http.StatusTooManyRequests, `{"detail":"Request was throttled."}`, false, "http 429"},
		{http.StatusUnprocessableEntity, `{"title":"Input validation failed","detail":"num_frames: must be <= 257"}`, false, "num_frames"},
	}
	for _, tc := range cases {
		client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if tc.status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "7")
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := client.Submit(context.Background(), "a/b:v1", map[string]any{})
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected APIError, got %v", tc.status, err)
		}
		if errors.Is(err, apperr.ErrUnauthorized) != tc.unauthorized {
			t.Fatalf("status %d: unauthorized mismatch for %v", tc.status, err)
		}
		if !strings.Contains(err.Error(), tc.contains) {
			t.Fatalf("status %d: expected %q in %q", tc.status, tc.contains, err.Error())
		}
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Options{Token: "  "}); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
