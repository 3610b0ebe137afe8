package conduit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidewater-ai/conduit/internal/catalog"
	"github.com/tidewater-ai/conduit/internal/credentials"
	"github.com/tidewater-ai/conduit/internal/health"
	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/internal/usage"
	"github.com/tidewater-ai/conduit/providers"
)

// chatCompletionOK is a minimal OpenAI-compatible success payload.
const chatCompletionOK = `{
	"id": "cmpl-1",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "routed"}}],
	"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
}`

type routerFixture struct {
	router  *Router
	catalog *catalog.Catalog
	health  *health.Tracker
	creds   *credentials.Store
	db      *store.DB
}

// newFixture builds a router over a temp sqlite store with credentials for
// the given providers, each pointed at its mock server.
func newFixture(t *testing.T, endpoints map[providers.Provider]string) *routerFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}

	cat := catalog.New(db)
	if err := cat.Seed(ctx); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	creds, err := credentials.Open(db, filepath.Join(dir, "secret.key"))
	if err != nil {
		t.Fatalf("open credentials: %v", err)
	}
	for p, url := range endpoints {
		if err := creds.Put(ctx, p, "test-token", url); err != nil {
			t.Fatalf("store %s credential: %v", p, err)
		}
	}

	tracker := health.NewTracker(db)
	router, err := NewRouter(ctx, Config{Router: RouterConfig{AttemptTimeoutSeconds: 5}}, cat, tracker, creds, usage.NewLogger(db))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &routerFixture{router: router, catalog: cat, health: tracker, creds: creds, db: db}
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatCompletionOK))
	}))
	t.Cleanup(server.Close)
	return server
}

func failServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGenerateRoutesToBestPriority(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     okServer(t).URL,
		providers.DeepSeek: okServer(t).URL,
	})

	resp, err := fx.router.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Groq chat seeds at priority 10, below deepseek's 18.
	if resp.Provider != providers.Groq {
		t.Errorf("provider = %s, want groq", resp.Provider)
	}
	if resp.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %s", resp.Model)
	}
	if resp.Content != "routed" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.Attempts) != 1 || !resp.Attempts[0].Success {
		t.Errorf("attempts = %+v", resp.Attempts)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGenerateFallsBackOnOutage(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     failServer(t, http.StatusServiceUnavailable, `{"error": {"message": "down"}}`).URL,
		providers.DeepSeek: okServer(t).URL,
	})
	ctx := context.Background()

	resp, err := fx.router.Generate(ctx, Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.DeepSeek {
		t.Errorf("provider = %s, want deepseek", resp.Provider)
	}
	if len(resp.Attempts) != 2 {
		t.Fatalf("attempts = %+v", resp.Attempts)
	}
	if resp.Attempts[0].Provider != providers.Groq || resp.Attempts[0].Success {
		t.Errorf("first attempt = %+v", resp.Attempts[0])
	}
	if resp.Attempts[0].ErrorKind != providers.KindServiceOutage {
		t.Errorf("first attempt kind = %s", resp.Attempts[0].ErrorKind)
	}

	// The failed attempt degraded groq's health.
	state, err := fx.health.Snapshot(ctx, providers.Groq)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.Status != health.StatusDegraded || state.ConsecutiveFailures != 1 {
		t.Errorf("groq health = %+v", state)
	}
}

func TestGenerateSkipsUnhealthyProvider(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     okServer(t).URL,
		providers.DeepSeek: okServer(t).URL,
	})
	ctx := context.Background()

	// Quarantine groq for 24h.
	if _, err := fx.health.RecordFailure(ctx, providers.Groq, providers.KindAuthFailure, "bad key"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	resp, err := fx.router.Generate(ctx, Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.DeepSeek {
		t.Errorf("provider = %s, want deepseek", resp.Provider)
	}
}

func TestGenerateForcedProviderBypassesHealth(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     okServer(t).URL,
		providers.DeepSeek: okServer(t).URL,
	})
	ctx := context.Background()

	if _, err := fx.health.RecordFailure(ctx, providers.Groq, providers.KindAuthFailure, "bad key"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	resp, err := fx.router.Generate(ctx, Request{Prompt: "hello", Hints: Hints{Provider: "groq"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.Groq {
		t.Errorf("provider = %s, want groq", resp.Provider)
	}
}

func TestGenerateForcedProviderNotConfigured(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq: okServer(t).URL,
	})

	_, err := fx.router.Generate(context.Background(), Request{Prompt: "hello", Hints: Hints{Provider: "claude"}})
	re, ok := AsRouteError(err)
	if !ok || re.Code != CodeProviderNotConfigured {
		t.Errorf("err = %v, want provider_not_configured", err)
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.router.Generate(context.Background(), Request{Prompt: "hello"})
	re, ok := AsRouteError(err)
	if !ok || re.Code != CodeNoAvailableProvider {
		t.Errorf("err = %v, want no_available_provider", err)
	}
}

func TestGenerateAllProvidersFailed(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     failServer(t, http.StatusInternalServerError, `{"error": {"message": "boom"}}`).URL,
		providers.DeepSeek: failServer(t, http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`).URL,
	})

	_, err := fx.router.Generate(context.Background(), Request{Prompt: "hello"})
	re, ok := AsRouteError(err)
	if !ok || re.Code != CodeAllProvidersFailed {
		t.Fatalf("err = %v, want all_providers_failed", err)
	}
	if len(re.Attempts) != 2 {
		t.Fatalf("attempts = %+v", re.Attempts)
	}
	if re.Attempts[0].ErrorKind != providers.KindServiceOutage {
		t.Errorf("first kind = %s", re.Attempts[0].ErrorKind)
	}
	if re.Attempts[1].ErrorKind != providers.KindRateLimit {
		t.Errorf("second kind = %s", re.Attempts[1].ErrorKind)
	}
}

func TestGenerateForcedMissingModelStopsLoop(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     failServer(t, http.StatusNotFound, `{"error": {"message": "model not found"}}`).URL,
		providers.DeepSeek: okServer(t).URL,
	})
	ctx := context.Background()

	// Catalog the bogus model on groq so the model-forced rule selects it.
	if err := fx.catalog.Upsert(ctx, catalog.Entry{
		Provider: providers.Groq, Workload: providers.WorkloadChat,
		Model: "llama-99-nonexistent", Priority: 1,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err := fx.router.Generate(ctx, Request{Prompt: "hello", Model: "llama-99-nonexistent"})
	re, ok := AsRouteError(err)
	if !ok || re.Code != CodeAllProvidersFailed {
		t.Fatalf("err = %v, want all_providers_failed", err)
	}
	// Request-inherent failure: the loop must not have moved to deepseek.
	if len(re.Attempts) != 1 {
		t.Fatalf("attempts = %+v", re.Attempts)
	}
	if re.Attempts[0].ErrorKind != providers.KindClientError {
		t.Errorf("kind = %s, want client_error", re.Attempts[0].ErrorKind)
	}

	// The client-error attempt must not degrade the provider.
	state, err := fx.health.Snapshot(ctx, providers.Groq)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.Status != health.StatusAvailable || state.ConsecutiveFailures != 0 {
		t.Errorf("groq health = %+v", state)
	}
}

func TestGenerateModelRoutesToCatalogedProvider(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     okServer(t).URL,
		providers.DeepSeek: okServer(t).URL,
	})

	resp, err := fx.router.Generate(context.Background(), Request{Prompt: "hello", Model: "deepseek-chat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.DeepSeek || resp.Model != "deepseek-chat" {
		t.Errorf("routed to %s/%s", resp.Provider, resp.Model)
	}
}

func TestGenerateDeadlineExceeded(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		_, _ = w.Write([]byte(chatCompletionOK))
	}))
	t.Cleanup(slow.Close)

	fx := newFixture(t, map[providers.Provider]string{
		providers.Groq:     slow.URL,
		providers.DeepSeek: okServer(t).URL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := fx.router.Generate(ctx, Request{Prompt: "hello"})
	re, ok := AsRouteError(err)
	if !ok || re.Code != CodeDeadlineExceeded {
		t.Fatalf("err = %v, want deadline_exceeded", err)
	}
	if len(re.Attempts) != 1 {
		t.Errorf("attempts = %+v", re.Attempts)
	}
}

func TestGenerateWorkloadSelectsModels(t *testing.T) {
	fx := newFixture(t, map[providers.Provider]string{
		providers.DeepSeek: okServer(t).URL,
	})

	resp, err := fx.router.Generate(context.Background(), Request{Prompt: "write a loop", Hints: Hints{Workload: "code"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.DeepSeek || resp.Model != "deepseek-chat" {
		t.Errorf("routed to %s/%s", resp.Provider, resp.Model)
	}
}

func TestReloadPicksUpNewCredential(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if got := fx.router.Configured(); len(got) != 0 {
		t.Fatalf("configured = %v", got)
	}

	if err := fx.creds.Put(ctx, providers.Groq, "tok", okServer(t).URL); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := fx.router.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := fx.router.Configured(); len(got) != 1 || got[0] != providers.Groq {
		t.Fatalf("configured = %v", got)
	}

	resp, err := fx.router.Generate(ctx, Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Provider != providers.Groq {
		t.Errorf("provider = %s", resp.Provider)
	}
}

func TestSortCandidatesSoftHints(t *testing.T) {
	cs := []candidate{
		{provider: providers.Groq, model: "a", priority: 10, order: 0},
		{provider: providers.OpenAI, model: "b", priority: 10, order: 6},
		{provider: providers.Anthropic, model: "c", priority: 20, order: 7},
	}

	sortCandidates(cs, Hints{Quality: "premium"})
	if cs[0].provider != providers.OpenAI {
		t.Errorf("premium first = %s, want openai", cs[0].provider)
	}
	// Priority still dominates preference.
	if cs[2].provider != providers.Anthropic {
		t.Errorf("last = %s, want anthropic", cs[2].provider)
	}

	sortCandidates(cs, Hints{Tags: []string{"provider:groq"}})
	if cs[0].provider != providers.Groq {
		t.Errorf("tagged first = %s, want groq", cs[0].provider)
	}
}

func TestInferProvider(t *testing.T) {
	cases := []struct {
		model string
		want  providers.Provider
		ok    bool
	}{
		{"gpt-4o-mini", providers.OpenAI, true},
		{"o3-mini", providers.OpenAI, true},
		{"claude-3-5-haiku-latest", providers.Anthropic, true},
		{"gemini-2.0-flash", providers.Google, true},
		{"anthropic.claude-3-5-haiku-20241022-v1:0", providers.Bedrock, true},
		{"meta.llama3-70b-instruct-v1:0", providers.Bedrock, true},
		{"command-r", providers.Cohere, true},
		{"deepseek-chat", providers.DeepSeek, true},
		{"mistral-small-latest", providers.Mistral, true},
		{"llama-3.3-70b-versatile", providers.Groq, true},
		{"zephyr-7b", "", false},
	}
	for _, tc := range cases {
		got, ok := inferProvider(tc.model)
		if got != tc.want || ok != tc.ok {
			t.Errorf("inferProvider(%q) = %s, %v", tc.model, got, ok)
		}
	}
}
