// Package health tracks per-provider availability from observed call
// outcomes. State is persisted so backoff windows survive restarts, and the
// routing layer consults it before spending an attempt on a provider that
// recently failed.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidewater-ai/conduit/internal/metrics"
	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

// Status is the coarse availability classification for a provider.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

const (
	// unavailableRetry is the quarantine applied to auth failures and
	// sustained outages. Only a recorded success or a re-added credential
	// clears it early.
	unavailableRetry = 24 * time.Hour

	// malformedRetry is the short pause after an unparseable response.
	malformedRetry = 5 * time.Minute

	// outageThreshold is the consecutive-failure count at which repeated
	// 5xx responses escalate from degraded to unavailable.
	outageThreshold = 5

	// maxBackoffShift caps the exponential backoff at 2^6 = 64, which the
	// one-hour ceiling then clamps.
	maxBackoffShift = 6
)

// State is the persisted health row for one provider.
type State struct {
	Provider            providers.Provider  `json:"provider"`
	Status              Status              `json:"status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastSuccessAt       *time.Time          `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time          `json:"last_failure_at,omitempty"`
	LastErrorKind       providers.ErrorKind `json:"last_error_kind,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	NextRetryAt         *time.Time          `json:"next_retry_at,omitempty"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Eligible reports whether the provider may be attempted at now. Degraded
// and unavailable providers become eligible again once their retry time
// passes; a degraded row with no retry time is attemptable immediately.
func (s State) Eligible(now time.Time) bool {
	if s.Status == StatusAvailable {
		return true
	}
	if s.NextRetryAt == nil {
		return s.Status == StatusDegraded
	}
	return !now.Before(*s.NextRetryAt)
}

// Tracker reads and updates provider health rows.
type Tracker struct {
	db  *store.DB
	now func() time.Time
}

func NewTracker(db *store.DB) *Tracker {
	return &Tracker{db: db, now: time.Now}
}

// Snapshot returns the health row for p. A provider with no recorded
// outcome yet is reported as fresh and available.
func (t *Tracker) Snapshot(ctx context.Context, p providers.Provider) (State, error) {
	s := State{Provider: p, Status: StatusAvailable}
	var (
		status                                     string
		successAt, failureAt, kind, lastErr, retry sql.NullString
		updated                                    string
	)
	err := t.db.QueryRow(ctx, `
SELECT status, consecutive_failures, last_success_at, last_failure_at,
	last_error_kind, last_error, next_retry_at, updated_at
FROM provider_health WHERE provider = ?`, string(p),
	).Scan(&status, &s.ConsecutiveFailures, &successAt, &failureAt, &kind, &lastErr, &retry, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		s.UpdatedAt = t.now().UTC()
		return s, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load %s health: %w", p, err)
	}

	s.Status = Status(status)
	s.LastErrorKind = providers.ErrorKind(kind.String)
	s.LastError = lastErr.String
	if s.LastSuccessAt, err = parseNullTime(successAt); err != nil {
		return State{}, fmt.Errorf("parse %s last_success_at: %w", p, err)
	}
	if s.LastFailureAt, err = parseNullTime(failureAt); err != nil {
		return State{}, fmt.Errorf("parse %s last_failure_at: %w", p, err)
	}
	if s.NextRetryAt, err = parseNullTime(retry); err != nil {
		return State{}, fmt.Errorf("parse %s next_retry_at: %w", p, err)
	}
	if s.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return State{}, fmt.Errorf("parse %s updated_at: %w", p, err)
	}
	return s, nil
}

// SnapshotAll returns one State per known provider, in enum order.
func (t *Tracker) SnapshotAll(ctx context.Context) ([]State, error) {
	out := make([]State, 0, len(providers.All()))
	for _, p := range providers.All() {
		s, err := t.Snapshot(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RecordSuccess resets p to available and clears the failure counter and
// backoff window.
func (t *Tracker) RecordSuccess(ctx context.Context, p providers.Provider) error {
	now := store.FormatTime(t.now())
	_, err := t.db.Exec(ctx, `
INSERT INTO provider_health(provider, status, consecutive_failures, last_success_at, next_retry_at, updated_at)
VALUES(?, ?, 0, ?, NULL, ?)
ON CONFLICT(provider) DO UPDATE SET
	status = excluded.status,
	consecutive_failures = 0,
	last_success_at = excluded.last_success_at,
	next_retry_at = NULL,
	updated_at = excluded.updated_at`,
		string(p), string(StatusAvailable), now, now)
	if err != nil {
		return fmt.Errorf("record %s success: %w", p, err)
	}
	metrics.ProviderHealth.WithLabelValues(string(p)).Set(healthGaugeValue(StatusAvailable))
	return nil
}

// RecordFailure applies the classified failure to p's health row and
// returns the resulting state.
//
// Client errors are attributed to the request, not the provider: they touch
// only the last-failure bookkeeping, leaving status, the failure counter,
// and the retry window untouched.
func (t *Tracker) RecordFailure(ctx context.Context, p providers.Provider, kind providers.ErrorKind, message string) (State, error) {
	current, err := t.Snapshot(ctx, p)
	if err != nil {
		return State{}, err
	}
	now := t.now().UTC()

	if kind == providers.KindClientError {
		if err := t.recordFailureDetail(ctx, p, kind, message, now); err != nil {
			return State{}, err
		}
		current.LastFailureAt = &now
		current.LastErrorKind = kind
		current.LastError = message
		current.UpdatedAt = now
		return current, nil
	}

	failures := current.ConsecutiveFailures + 1
	status, retryAt := nextStatus(kind, failures, now)

	var retry any
	if retryAt != nil {
		retry = store.FormatTime(*retryAt)
	}
	_, err = t.db.Exec(ctx, `
INSERT INTO provider_health(provider, status, consecutive_failures, last_failure_at,
	last_error_kind, last_error, next_retry_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	status = excluded.status,
	consecutive_failures = excluded.consecutive_failures,
	last_failure_at = excluded.last_failure_at,
	last_error_kind = excluded.last_error_kind,
	last_error = excluded.last_error,
	next_retry_at = excluded.next_retry_at,
	updated_at = excluded.updated_at`,
		string(p), string(status), failures, store.FormatTime(now),
		string(kind), message, retry, store.FormatTime(now))
	if err != nil {
		return State{}, fmt.Errorf("record %s failure: %w", p, err)
	}
	metrics.ProviderHealth.WithLabelValues(string(p)).Set(healthGaugeValue(status))

	return State{
		Provider:            p,
		Status:              status,
		ConsecutiveFailures: failures,
		LastSuccessAt:       current.LastSuccessAt,
		LastFailureAt:       &now,
		LastErrorKind:       kind,
		LastError:           message,
		NextRetryAt:         retryAt,
		UpdatedAt:           now,
	}, nil
}

// recordFailureDetail writes only the last-failure columns.
func (t *Tracker) recordFailureDetail(ctx context.Context, p providers.Provider, kind providers.ErrorKind, message string, now time.Time) error {
	ts := store.FormatTime(now)
	_, err := t.db.Exec(ctx, `
INSERT INTO provider_health(provider, last_failure_at, last_error_kind, last_error, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	last_failure_at = excluded.last_failure_at,
	last_error_kind = excluded.last_error_kind,
	last_error = excluded.last_error,
	updated_at = excluded.updated_at`,
		string(p), ts, string(kind), message, ts)
	if err != nil {
		return fmt.Errorf("record %s failure detail: %w", p, err)
	}
	return nil
}

// nextStatus maps a classified failure onto the provider's new status and
// retry time. failures is the post-increment consecutive failure count.
func nextStatus(kind providers.ErrorKind, failures int, now time.Time) (Status, *time.Time) {
	switch kind {
	case providers.KindAuthFailure:
		at := now.Add(unavailableRetry)
		return StatusUnavailable, &at
	case providers.KindServiceOutage:
		if failures >= outageThreshold {
			at := now.Add(unavailableRetry)
			return StatusUnavailable, &at
		}
		at := now.Add(backoff(failures))
		return StatusDegraded, &at
	case providers.KindMalformedResponse:
		at := now.Add(malformedRetry)
		return StatusDegraded, &at
	default:
		// Rate limits, timeouts, transient transport faults, and unknowns
		// all take the exponential path.
		at := now.Add(backoff(failures))
		return StatusDegraded, &at
	}
}

// backoff returns min(60, 2^k) minutes for k consecutive failures.
func backoff(k int) time.Duration {
	if k > maxBackoffShift {
		k = maxBackoffShift
	}
	minutes := 1 << k
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func healthGaugeValue(s Status) float64 {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnavailable:
		return 2
	default:
		return 0
	}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := store.ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
