// Package quota decides whether a metered call fits in its key's monthly
// allowance and records the calls it admits.
package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/metrics"
	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/store"
)

// Mode selects an Enforcer implementation.
type Mode string

const (
	// ModeLedger counts then appends. Concurrent bursts on one key may
	// overshoot the limit by up to the burst width.
	ModeLedger Mode = "ledger"
	// ModeAtomic counts and appends in one serialized database transaction.
	ModeAtomic Mode = "atomic"
	// ModeRedis keeps a monthly counter in Redis seeded from the ledger.
	ModeRedis Mode = "redis"
)

// Request is one call asking to be metered.
type Request struct {
	KeyID    uuid.UUID
	Endpoint string
	Limit    int64
	At       time.Time
}

// Admission is the outcome of a metering decision. Used is the count for the
// current period including this call when Allowed, or the count that caused
// the refusal otherwise.
type Admission struct {
	Allowed bool
	Used    int64
}

// Enforcer meters calls against a monthly limit. An error means no decision
// could be made; the caller must not admit the request.
type Enforcer interface {
	Admit(ctx context.Context, req Request) (Admission, error)
}

// PeriodStart returns the first instant of t's calendar month in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the first instant of the month after t's, in UTC.
func PeriodEnd(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 1, 0)
}

// LedgerEnforcer reads the ledger count and appends on admission. The append
// is best-effort: a failed write is logged and the call still goes through.
type LedgerEnforcer struct {
	ledger store.UsageLedger
}

func NewLedgerEnforcer(ledger store.UsageLedger) *LedgerEnforcer {
	return &LedgerEnforcer{ledger: ledger}
}

func (e *LedgerEnforcer) Admit(ctx context.Context, req Request) (Admission, error) {
	used, err := e.ledger.CountUsageSince(ctx, req.KeyID, PeriodStart(req.At))
	if err != nil {
		return Admission{}, err
	}
	if used >= req.Limit {
		return Admission{Allowed: false, Used: used}, nil
	}

	appendBestEffort(ctx, e.ledger, req)
	return Admission{Allowed: true, Used: used + 1}, nil
}

// AtomicEnforcer delegates the check and the append to one store transaction.
// It fails closed: if the append cannot be written the call is refused.
type AtomicEnforcer struct {
	ledger store.AtomicUsageLedger
}

func NewAtomicEnforcer(ledger store.AtomicUsageLedger) *AtomicEnforcer {
	return &AtomicEnforcer{ledger: ledger}
}

func (e *AtomicEnforcer) Admit(ctx context.Context, req Request) (Admission, error) {
	event := &model.UsageEvent{APIKeyID: req.KeyID, Endpoint: req.Endpoint, CreatedAt: req.At}
	used, admitted, err := e.ledger.AppendUsageEventWithinQuota(ctx, event, PeriodStart(req.At), req.Limit)
	if err != nil {
		return Admission{}, err
	}
	return Admission{Allowed: admitted, Used: used}, nil
}

func appendBestEffort(ctx context.Context, ledger store.UsageLedger, req Request) {
	event := &model.UsageEvent{APIKeyID: req.KeyID, Endpoint: req.Endpoint, CreatedAt: req.At}
	if err := ledger.AppendUsageEvent(ctx, event); err != nil {
		metrics.RecordUsageWriteFailure("append")
		log.Warn().Err(err).Str("api_key_id", req.KeyID.String()).Str("endpoint", req.Endpoint).Msg("failed to record usage event")
	}
}
