package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/health"
	"github.com/tidewater-ai/conduit/providers"
)

type stubRouter struct {
	resp *conduit.Response
	err  error
}

func (s *stubRouter) Generate(_ context.Context, req conduit.Request) (*conduit.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.resp, s.err
}

type stubHealth struct {
	states []health.State
}

func (s *stubHealth) SnapshotAll(context.Context) ([]health.State, error) {
	return s.states, nil
}

func postGenerate(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGenerateEndpointSuccess(t *testing.T) {
	handler := newHandler(&stubRouter{resp: &conduit.Response{
		Provider: providers.Groq, Model: "llama-3.3-70b-versatile",
		Content: "hi there", LatencyMS: 42,
	}}, &stubHealth{})

	rec := postGenerate(t, handler, `{"prompt": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp conduit.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Provider != providers.Groq || resp.Content != "hi there" {
		t.Errorf("response = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestGenerateEndpointStatusMapping(t *testing.T) {
	cases := []struct {
		code conduit.Code
		want int
	}{
		{conduit.CodeAllProvidersFailed, http.StatusBadGateway},
		{conduit.CodeNoAvailableProvider, http.StatusServiceUnavailable},
		{conduit.CodeProviderNotConfigured, http.StatusServiceUnavailable},
		{conduit.CodeDeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			re := conduit.NewRouteError(tc.code, "nope", nil)
			re.Attempts = []conduit.Attempt{{Provider: providers.Groq, Model: "m", ErrorKind: providers.KindServiceOutage}}
			handler := newHandler(&stubRouter{err: re}, &stubHealth{})

			rec := postGenerate(t, handler, `{"prompt": "hello"}`)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var body struct {
				ErrorKind string            `json:"error_kind"`
				Attempts  []conduit.Attempt `json:"attempts"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.ErrorKind != string(tc.code) {
				t.Errorf("error_kind = %q", body.ErrorKind)
			}
			if len(body.Attempts) != 1 {
				t.Errorf("attempts = %+v", body.Attempts)
			}
		})
	}
}

func TestGenerateEndpointInvalidInput(t *testing.T) {
	handler := newHandler(&stubRouter{}, &stubHealth{})

	for _, body := range []string{"not json", `{"prompt": ""}`} {
		rec := postGenerate(t, handler, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	handler := newHandler(&stubRouter{}, &stubHealth{states: []health.State{
		{Provider: providers.Groq, Status: health.StatusAvailable},
		{Provider: providers.OpenAI, Status: health.StatusDegraded, ConsecutiveFailures: 2},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Providers []health.State `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Providers) != 2 || body.Providers[1].Status != health.StatusDegraded {
		t.Errorf("providers = %+v", body.Providers)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	handler := newHandler(&stubRouter{}, &stubHealth{})

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(conduit.NewRouteError(conduit.CodeInvalidRequest, "bad", nil)); got != 2 {
		t.Errorf("invalid request exit = %d, want 2", got)
	}
	if got := exitCode(conduit.NewRouteError(conduit.CodeAllProvidersFailed, "failed", nil)); got != 1 {
		t.Errorf("exhaustion exit = %d, want 1", got)
	}
}

func TestRenderResponseFormats(t *testing.T) {
	resp := &conduit.Response{
		Provider: providers.Groq, Model: "m", Content: "body", LatencyMS: 10,
		Usage: providers.TokenUsage{TotalTokens: 4},
	}

	text, err := renderResponse(resp, "text", true)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.Contains(text, "body") || !strings.Contains(text, "provider=groq") {
		t.Errorf("text = %q", text)
	}

	md, err := renderResponse(resp, "markdown", false)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if strings.Contains(md, "provider") {
		t.Errorf("markdown leaked metadata: %q", md)
	}

	jsonOut, err := renderResponse(resp, "json", false)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded conduit.Response
	if err := json.Unmarshal([]byte(jsonOut), &decoded); err != nil {
		t.Fatalf("decode json output: %v", err)
	}
	if decoded.Content != "body" {
		t.Errorf("json content = %q", decoded.Content)
	}

	if _, err := renderResponse(resp, "yaml", false); err == nil {
		t.Error("expected error for unknown format")
	}
}
