// Package tier defines the service levels an API key can hold, their monthly
// quotas and the ordering used for "at least tier X" checks.
package tier

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Tier is a named service level. The set of tiers is closed; see All.
type Tier string

const (
	Free       Tier = "free"
	Developer  Tier = "developer"
	Business   Tier = "business"
	Enterprise Tier = "enterprise"
)

// DefaultQuota applies to tier names that have no definition. Keys carrying
// such a tier are a data anomaly and are logged when seen.
const DefaultQuota int64 = 1000

// All returns every tier in rank order.
func All() []Tier {
	return []Tier{Free, Developer, Business, Enterprise}
}

// Parse converts a tier name to a Tier.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q (want one of free, developer, business, enterprise)", s)
	}
	return t, nil
}

// Rank returns the position of t in the tier ordering, free being 0.
func (t Tier) Rank() (int, bool) {
	switch t {
	case Free:
		return 0, true
	case Developer:
		return 1, true
	case Business:
		return 2, true
	case Enterprise:
		return 3, true
	default:
		return 0, false
	}
}

func (t Tier) Valid() bool {
	_, ok := t.Rank()
	return ok
}

// Title returns the display name of the tier ("Developer").
func (t Tier) Title() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// RankOf returns the rank of t. Unknown tiers rank lowest.
func RankOf(t Tier) int {
	r, _ := t.Rank()
	return r
}

// AtLeast reports whether granted is the same as or above minimum.
func AtLeast(granted, minimum Tier) bool {
	return RankOf(granted) >= RankOf(minimum)
}

// Quotas holds the monthly request allowance of every tier.
type Quotas struct {
	Free       int64
	Developer  int64
	Business   int64
	Enterprise int64
}

// DefaultQuotas returns the standard monthly allowances.
func DefaultQuotas() Quotas {
	return Quotas{
		Free:       1000,
		Developer:  10000,
		Business:   50000,
		Enterprise: 200000,
	}
}

// Policy maps tiers to monthly quotas. It is immutable once built.
type Policy struct {
	quotas [4]int64
}

// NewPolicy validates q and builds a Policy from it.
func NewPolicy(q Quotas) (*Policy, error) {
	p := &Policy{quotas: [4]int64{q.Free, q.Developer, q.Business, q.Enterprise}}
	for i, v := range p.quotas {
		if v <= 0 {
			return nil, fmt.Errorf("monthly quota for tier %s must be positive, got %d", All()[i], v)
		}
	}
	return p, nil
}

// DefaultPolicy returns a Policy built from DefaultQuotas.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(DefaultQuotas())
	return p
}

// QuotaFor returns the monthly quota of t, or DefaultQuota when t is unknown.
func (p *Policy) QuotaFor(t Tier) int64 {
	r, ok := t.Rank()
	if !ok {
		log.Warn().Str("tier", string(t)).Int64("quota", DefaultQuota).Msg("unknown tier, applying default quota")
		return DefaultQuota
	}
	return p.quotas[r]
}

// Definition is a tier with its quota and rank, used for listings.
type Definition struct {
	Name         Tier  `json:"name"`
	Rank         int   `json:"rank"`
	MonthlyQuota int64 `json:"monthly_quota"`
}

// Definitions returns every tier definition in rank order.
func (p *Policy) Definitions() []Definition {
	defs := make([]Definition, 0, len(p.quotas))
	for i, t := range All() {
		defs = append(defs, Definition{Name: t, Rank: i, MonthlyQuota: p.quotas[i]})
	}
	return defs
}
