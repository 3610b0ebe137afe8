package conduit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidewater-ai/conduit/internal/catalog"
	"github.com/tidewater-ai/conduit/internal/credentials"
	"github.com/tidewater-ai/conduit/internal/health"
	"github.com/tidewater-ai/conduit/internal/logging"
	"github.com/tidewater-ai/conduit/internal/metrics"
	"github.com/tidewater-ai/conduit/internal/usage"
	"github.com/tidewater-ai/conduit/providers"
)

// Router turns a Request into a Response by walking a priority-ordered
// candidate list, recording usage and health per attempt.
type Router struct {
	mu       sync.RWMutex
	adapters map[providers.Provider]providers.Adapter

	cfg     Config
	catalog *catalog.Catalog
	health  *health.Tracker
	creds   *credentials.Store
	usage   *usage.Logger

	attemptTimeout time.Duration
	now            func() time.Time
}

// NewRouter builds a router and materializes one adapter per provider with
// stored credentials (plus bedrock when enabled via config).
func NewRouter(ctx context.Context, cfg Config, cat *catalog.Catalog, tracker *health.Tracker, creds *credentials.Store, logger *usage.Logger) (*Router, error) {
	r := &Router{
		cfg:            cfg,
		catalog:        cat,
		health:         tracker,
		creds:          creds,
		usage:          logger,
		attemptTimeout: cfg.AttemptTimeout(),
		now:            time.Now,
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the adapter map from stored credentials and config. The
// swap is atomic; in-flight requests keep the snapshot they started with.
func (r *Router) Reload(ctx context.Context) error {
	adapters := make(map[providers.Provider]providers.Adapter)

	stored, err := r.creds.List(ctx)
	if err != nil {
		return NewRouteError(CodePersistence, "list credentials", err)
	}
	for _, p := range stored {
		token, ok, err := r.creds.Token(ctx, p)
		if err != nil {
			if errors.Is(err, credentials.ErrCorrupt) {
				return NewRouteError(CodeCredentialCorrupt, fmt.Sprintf("credential for %s is corrupt", p), err)
			}
			return NewRouteError(CodePersistence, fmt.Sprintf("load %s credential", p), err)
		}
		if !ok {
			continue
		}
		baseURL, err := r.creds.ResolveBaseURL(ctx, p, r.cfg.Provider(string(p)).BaseURL)
		if err != nil {
			return NewRouteError(CodePersistence, fmt.Sprintf("resolve %s endpoint", p), err)
		}
		adapter, err := buildAdapter(ctx, p, token, baseURL, r.cfg.Provider(string(p)))
		if err != nil {
			return err
		}
		if adapter != nil {
			adapters[p] = adapter
		}
	}

	// Bedrock carries no stored token; the AWS credential chain supplies
	// auth, so it is opted in through config.
	if _, ok := adapters[providers.Bedrock]; !ok {
		if pc := r.cfg.Provider(string(providers.Bedrock)); pc.Enabled || pc.Region != "" {
			adapter, err := providers.NewBedrock(ctx, pc.Region)
			if err != nil {
				return NewRouteError(CodeProviderNotConfigured, "initialize bedrock", err)
			}
			adapters[providers.Bedrock] = adapter
		}
	}

	r.mu.Lock()
	r.adapters = adapters
	r.mu.Unlock()
	return nil
}

func buildAdapter(ctx context.Context, p providers.Provider, token, baseURL string, pc ProviderConfig) (providers.Adapter, error) {
	switch p {
	case providers.Groq:
		return providers.NewGroq(token, baseURL), nil
	case providers.DeepSeek:
		return providers.NewDeepSeek(token, baseURL), nil
	case providers.Together:
		return providers.NewTogether(token, baseURL), nil
	case providers.Google:
		return providers.NewGoogle(token, baseURL), nil
	case providers.HuggingFace:
		return providers.NewHuggingFace(token, baseURL), nil
	case providers.Mistral:
		return providers.NewMistral(token, baseURL), nil
	case providers.OpenAI:
		return providers.NewOpenAI(token, baseURL), nil
	case providers.Anthropic:
		return providers.NewAnthropic(token, baseURL), nil
	case providers.Cohere:
		return providers.NewCohere(token, baseURL), nil
	case providers.Bedrock:
		return providers.NewBedrock(ctx, pc.Region)
	default:
		return nil, nil
	}
}

// Configured returns the providers with a live adapter, in enum order.
func (r *Router) Configured() []providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []providers.Provider
	for _, p := range providers.All() {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// candidate is one (provider, model) pair in attempt order.
type candidate struct {
	provider providers.Provider
	model    string
	priority int
	order    int
}

// Generate routes one request. The returned error is always a *RouteError.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	workload := providers.WorkloadChat
	if req.Hints.Workload != "" {
		workload, _ = providers.ParseWorkload(req.Hints.Workload)
	}

	var forced providers.Provider
	if req.Hints.Provider != "" {
		forced, _ = providers.Parse(req.Hints.Provider)
	}

	adapters := r.snapshotAdapters()
	if forced != "" {
		if _, ok := adapters[forced]; !ok {
			return nil, NewRouteError(CodeProviderNotConfigured,
				fmt.Sprintf("no credentials stored for %s", forced), nil)
		}
	}

	// Health is read once; concurrent requests may move it between our
	// attempts, but candidate ordering stays consistent within a request.
	states := make(map[providers.Provider]health.State)
	for p := range adapters {
		s, err := r.health.Snapshot(ctx, p)
		if err != nil {
			return nil, NewRouteError(CodePersistence, "load provider health", err)
		}
		states[p] = s
	}

	candidates, err := r.buildCandidates(ctx, req, forced, workload, adapters, states)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, NewRouteError(CodeNoAvailableProvider,
			fmt.Sprintf("no eligible provider for workload %s", workload), nil)
	}

	return r.attempt(ctx, req, candidates, adapters, log)
}

func (r *Router) snapshotAdapters() map[providers.Provider]providers.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[providers.Provider]providers.Adapter, len(r.adapters))
	for p, a := range r.adapters {
		out[p] = a
	}
	return out
}

func (r *Router) buildCandidates(ctx context.Context, req Request, forced providers.Provider, workload providers.Workload, adapters map[providers.Provider]providers.Adapter, states map[providers.Provider]health.State) ([]candidate, error) {
	now := r.now()
	eligible := func(p providers.Provider) bool {
		// A hard provider hint bypasses the health filter.
		if p == forced {
			return true
		}
		s, ok := states[p]
		return ok && s.Eligible(now)
	}
	order := fallbackOrder()

	switch {
	case forced != "" && req.Model != "":
		return []candidate{{provider: forced, model: req.Model, order: order[forced]}}, nil

	case forced != "":
		entries, err := r.catalog.Active(ctx, forced, workload)
		if err != nil {
			return nil, NewRouteError(CodePersistence, "load catalog", err)
		}
		var out []candidate
		for _, e := range entries {
			out = append(out, candidate{provider: forced, model: e.Model, priority: e.Priority, order: order[forced]})
		}
		if len(out) == 0 {
			model, priority, ok := catalog.SeedDefault(forced, workload)
			if !ok {
				model = adapters[forced].DefaultModel()
			}
			out = append(out, candidate{provider: forced, model: model, priority: priority, order: order[forced]})
		}
		return out, nil

	case req.Model != "":
		entries, err := r.catalog.ActiveForModel(ctx, req.Model)
		if err != nil {
			return nil, NewRouteError(CodePersistence, "load catalog", err)
		}
		var out []candidate
		for _, e := range entries {
			if _, ok := adapters[e.Provider]; !ok || !eligible(e.Provider) {
				continue
			}
			out = append(out, candidate{provider: e.Provider, model: e.Model, priority: e.Priority, order: order[e.Provider]})
		}
		if len(out) == 0 {
			// The model is not cataloged; route to the provider its name
			// implies, if one is configured and healthy.
			if p, ok := inferProvider(req.Model); ok {
				if _, have := adapters[p]; have && eligible(p) {
					out = append(out, candidate{provider: p, model: req.Model, order: order[p]})
				}
			}
		}
		sortCandidates(out, req.Hints)
		return out, nil

	default:
		entries, err := r.catalog.ActiveForWorkload(ctx, workload)
		if err != nil {
			return nil, NewRouteError(CodePersistence, "load catalog", err)
		}
		var out []candidate
		for _, e := range entries {
			if _, ok := adapters[e.Provider]; !ok || !eligible(e.Provider) {
				continue
			}
			out = append(out, candidate{provider: e.Provider, model: e.Model, priority: e.Priority, order: order[e.Provider]})
		}
		sortCandidates(out, req.Hints)
		return out, nil
	}
}

// fallbackOrder maps each provider to its position in the deterministic
// tie-break order (enum declaration order).
func fallbackOrder() map[providers.Provider]int {
	out := make(map[providers.Provider]int, len(providers.All()))
	for i, p := range providers.All() {
		out[p] = i
	}
	return out
}

// sortCandidates orders by priority, then soft-hint preference, then
// fallback order. The sort is stable so equal candidates keep catalog order.
func sortCandidates(cs []candidate, hints Hints) {
	preferred := softPreference(hints)
	score := func(c candidate) int {
		if preferred[c.provider] {
			return 0
		}
		return 1
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].priority != cs[j].priority {
			return cs[i].priority < cs[j].priority
		}
		if si, sj := score(cs[i]), score(cs[j]); si != sj {
			return si < sj
		}
		return cs[i].order < cs[j].order
	})
}

// softPreference derives a preferred-provider set from soft hints. Soft
// hints bias ties; they never exclude a candidate.
func softPreference(hints Hints) map[providers.Provider]bool {
	out := make(map[providers.Provider]bool)
	for _, tag := range hints.Tags {
		if name, ok := strings.CutPrefix(tag, "provider:"); ok {
			if p, err := providers.Parse(name); err == nil {
				out[p] = true
			}
		}
	}
	if hints.Quality == "premium" || hints.Complexity == "high" {
		out[providers.OpenAI] = true
		out[providers.Anthropic] = true
	}
	if hints.Speed == "fast" {
		out[providers.Groq] = true
		out[providers.Google] = true
	}
	return out
}

func (r *Router) attempt(ctx context.Context, req Request, candidates []candidate, adapters map[providers.Provider]providers.Adapter, log *slog.Logger) (*Response, error) {
	var attempts []Attempt

	for _, c := range candidates {
		adapter, ok := adapters[c.provider]
		if !ok {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		start := time.Now()
		result, err := adapter.Generate(attemptCtx, providers.Call{Model: c.model, Prompt: req.Prompt})
		latency := time.Since(start).Milliseconds()
		cancel()

		if err == nil {
			attempts = append(attempts, Attempt{Provider: c.provider, Model: c.model, Success: true, LatencyMS: latency})
			r.recordSuccess(ctx, c, result, latency, log)
			return &Response{
				Provider:  c.provider,
				Model:     c.model,
				Content:   result.Content,
				LatencyMS: latency,
				Usage:     result.Usage,
				Attempts:  attempts,
			}, nil
		}

		ae := providers.Classify(c.provider, err)
		// A 404 on a model the caller named is the caller's mistake, not a
		// provider fault.
		if req.Model != "" && ae.Kind == providers.KindMalformedResponse && ae.Status == 404 {
			ae = &providers.AdapterError{Provider: ae.Provider, Kind: providers.KindClientError, Status: ae.Status, Message: ae.Message}
		}

		attempts = append(attempts, Attempt{
			Provider: c.provider, Model: c.model,
			LatencyMS: latency, ErrorKind: ae.Kind, Error: ae.Message,
		})
		r.recordFailure(ctx, c, ae, latency, log)

		if ctxErr := ctx.Err(); ctxErr != nil {
			re := NewRouteError(CodeDeadlineExceeded, "request deadline elapsed", ctxErr)
			if errors.Is(ctxErr, context.Canceled) {
				re = NewRouteError(CodeDeadlineExceeded, "request cancelled", ctxErr)
			}
			re.Attempts = attempts
			return nil, re
		}
		if requestInherent(req, ae) {
			re := NewRouteError(CodeAllProvidersFailed, ae.Message, ae)
			re.Attempts = attempts
			return nil, re
		}
	}

	re := NewRouteError(CodeAllProvidersFailed, "every candidate failed", nil)
	re.Attempts = attempts
	return nil, re
}

// requestInherent reports whether the failure would repeat on any provider
// because the fault is in the request itself.
func requestInherent(req Request, ae *providers.AdapterError) bool {
	if ae.Kind != providers.KindClientError {
		return false
	}
	switch ae.Status {
	case 400, 422:
		return true
	case 404:
		return req.Model != ""
	}
	return false
}

func (r *Router) recordSuccess(ctx context.Context, c candidate, result *providers.Result, latency int64, log *slog.Logger) {
	// Attempt bookkeeping must land even when the request context has
	// already expired.
	ctx = context.WithoutCancel(ctx)
	tag, model := string(c.provider), c.model
	metrics.RequestsTotal.WithLabelValues(tag, model, "success").Inc()
	metrics.AttemptDuration.WithLabelValues(tag, model).Observe(float64(latency) / 1000)
	metrics.TokensInput.WithLabelValues(tag, model).Add(float64(result.Usage.PromptTokens))
	metrics.TokensOutput.WithLabelValues(tag, model).Add(float64(result.Usage.CompletionTokens))

	if err := r.usage.Record(ctx, usage.Record{
		Provider: c.provider, Model: model, Success: true, LatencyMS: latency,
		PromptTokens:     int64(result.Usage.PromptTokens),
		CompletionTokens: int64(result.Usage.CompletionTokens),
		TotalTokens:      int64(result.Usage.TotalTokens),
	}); err != nil {
		log.Warn("usage record failed", "provider", tag, "error", err)
	}
	if err := r.health.RecordSuccess(ctx, c.provider); err != nil {
		log.Warn("health update failed", "provider", tag, "error", err)
	}
	log.Info("generation served", "provider", tag, "model", model, "latency_ms", latency)
}

func (r *Router) recordFailure(ctx context.Context, c candidate, ae *providers.AdapterError, latency int64, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	tag, model := string(c.provider), c.model
	metrics.RequestsTotal.WithLabelValues(tag, model, "error").Inc()
	metrics.AttemptDuration.WithLabelValues(tag, model).Observe(float64(latency) / 1000)
	metrics.ProviderErrors.WithLabelValues(tag, string(ae.Kind)).Inc()

	if err := r.usage.Record(ctx, usage.Record{
		Provider: c.provider, Model: model, Success: false,
		LatencyMS: latency, ErrorMessage: ae.Message,
	}); err != nil {
		log.Warn("usage record failed", "provider", tag, "error", err)
	}
	if _, err := r.health.RecordFailure(ctx, c.provider, ae.Kind, ae.Message); err != nil {
		log.Warn("health update failed", "provider", tag, "error", err)
	}
	log.Warn("attempt failed", "provider", tag, "model", model, "kind", string(ae.Kind), "error", ae.Message)
}

// inferProvider guesses the provider from a model name when the catalog has
// no entry for it.
func inferProvider(model string) (providers.Provider, bool) {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "anthropic.") || strings.HasPrefix(m, "amazon.") || strings.HasPrefix(m, "meta."):
		return providers.Bedrock, true
	case strings.HasPrefix(m, "gemini"):
		return providers.Google, true
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return providers.OpenAI, true
	case strings.HasPrefix(m, "claude"):
		return providers.Anthropic, true
	case strings.HasPrefix(m, "command"):
		return providers.Cohere, true
	case strings.HasPrefix(m, "deepseek"):
		return providers.DeepSeek, true
	case strings.HasPrefix(m, "mistral") || strings.HasPrefix(m, "ministral") || strings.HasPrefix(m, "codestral"):
		return providers.Mistral, true
	case strings.HasPrefix(m, "llama"):
		return providers.Groq, true
	}
	return "", false
}
