package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

func openTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	return NewTracker(db)
}

func TestSnapshotUnknownProviderIsAvailable(t *testing.T) {
	tracker := openTestTracker(t)

	s, err := tracker.Snapshot(context.Background(), providers.Groq)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Status != StatusAvailable || s.ConsecutiveFailures != 0 {
		t.Errorf("fresh state = %+v", s)
	}
	if !s.Eligible(time.Now()) {
		t.Error("fresh provider should be eligible")
	}
}

func TestFirstTransientFailureDegrades(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	s, err := tracker.RecordFailure(ctx, providers.Groq, providers.KindRateLimit, "429 too many requests")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if s.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", s.Status)
	}
	if s.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1", s.ConsecutiveFailures)
	}
	want := base.Add(2 * time.Minute)
	if s.NextRetryAt == nil || !s.NextRetryAt.Equal(want) {
		t.Errorf("next retry = %v, want %v", s.NextRetryAt, want)
	}
	if s.Eligible(base) {
		t.Error("degraded provider inside backoff should not be eligible")
	}
	if !s.Eligible(want) {
		t.Error("provider should be eligible once the retry time passes")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	wantMinutes := []int{2, 4, 8, 16, 32, 60, 60, 60}
	for i, want := range wantMinutes {
		s, err := tracker.RecordFailure(ctx, providers.Together, providers.KindTimeout, "deadline exceeded")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		got := s.NextRetryAt.Sub(base)
		if got != time.Duration(want)*time.Minute {
			t.Errorf("failure %d: backoff = %v, want %dm", i+1, got, want)
		}
	}
}

func TestAuthFailureQuarantines(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	s, err := tracker.RecordFailure(ctx, providers.OpenAI, providers.KindAuthFailure, "invalid api key")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if s.Status != StatusUnavailable {
		t.Errorf("status = %s, want unavailable", s.Status)
	}
	want := base.Add(24 * time.Hour)
	if s.NextRetryAt == nil || !s.NextRetryAt.Equal(want) {
		t.Errorf("next retry = %v, want %v", s.NextRetryAt, want)
	}
	if s.Eligible(base.Add(23 * time.Hour)) {
		t.Error("quarantined provider eligible too early")
	}
}

func TestOutageEscalatesAtThreshold(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	tracker.now = func() time.Time { return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) }

	var last State
	for i := 0; i < outageThreshold; i++ {
		var err error
		last, err = tracker.RecordFailure(ctx, providers.Cohere, providers.KindServiceOutage, "503")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
	}
	if last.Status != StatusUnavailable {
		t.Errorf("status after %d outages = %s, want unavailable", outageThreshold, last.Status)
	}
	if last.ConsecutiveFailures != outageThreshold {
		t.Errorf("failures = %d", last.ConsecutiveFailures)
	}
}

func TestMalformedResponseShortPause(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	s, err := tracker.RecordFailure(ctx, providers.HuggingFace, providers.KindMalformedResponse, "empty choices")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if s.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", s.Status)
	}
	want := base.Add(5 * time.Minute)
	if s.NextRetryAt == nil || !s.NextRetryAt.Equal(want) {
		t.Errorf("next retry = %v, want %v", s.NextRetryAt, want)
	}
}

func TestClientErrorLeavesStatusUntouched(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	tracker.now = func() time.Time { return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) }

	s, err := tracker.RecordFailure(ctx, providers.Groq, providers.KindClientError, "400 bad request")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if s.Status != StatusAvailable {
		t.Errorf("status = %s, want available", s.Status)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", s.ConsecutiveFailures)
	}
	if s.NextRetryAt != nil {
		t.Errorf("next retry = %v, want nil", s.NextRetryAt)
	}
	if s.LastErrorKind != providers.KindClientError {
		t.Errorf("last error kind = %s", s.LastErrorKind)
	}

	// The detail row persists across snapshots.
	reread, err := tracker.Snapshot(ctx, providers.Groq)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if reread.LastFailureAt == nil || reread.Status != StatusAvailable {
		t.Errorf("persisted state = %+v", reread)
	}
}

func TestSuccessResetsFailureState(t *testing.T) {
	tracker := openTestTracker(t)
	ctx := context.Background()
	tracker.now = func() time.Time { return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if _, err := tracker.RecordFailure(ctx, providers.Mistral, providers.KindTimeout, "timeout"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := tracker.RecordSuccess(ctx, providers.Mistral); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	s, err := tracker.Snapshot(ctx, providers.Mistral)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Status != StatusAvailable || s.ConsecutiveFailures != 0 || s.NextRetryAt != nil {
		t.Errorf("state after success = %+v", s)
	}
	if s.LastSuccessAt == nil {
		t.Error("last success timestamp not recorded")
	}
}

func TestSnapshotAllCoversEveryProvider(t *testing.T) {
	tracker := openTestTracker(t)

	states, err := tracker.SnapshotAll(context.Background())
	if err != nil {
		t.Fatalf("SnapshotAll: %v", err)
	}
	if len(states) != len(providers.All()) {
		t.Fatalf("got %d states, want %d", len(states), len(providers.All()))
	}
	for i, p := range providers.All() {
		if states[i].Provider != p {
			t.Errorf("states[%d].Provider = %s, want %s", i, states[i].Provider, p)
		}
	}
}
