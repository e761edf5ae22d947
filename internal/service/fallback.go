package service

import (
	"crypto/subtle"

	"github.com/social-trends-api/internal/tier"
)

// DemoKeys is the operator-configured allowlist of keys accepted without a
// store record. It is consulted only when enabled, and only after the key
// store missed or could not be reached.
type DemoKeys struct {
	enabled bool
	keys    map[string]tier.Tier
}

// NewDemoKeys builds the allowlist. A disabled or empty allowlist never
// matches.
func NewDemoKeys(enabled bool, keys map[string]tier.Tier) *DemoKeys {
	copied := make(map[string]tier.Tier, len(keys))
	for k, t := range keys {
		if k != "" {
			copied[k] = t
		}
	}
	return &DemoKeys{enabled: enabled, keys: copied}
}

func (d *DemoKeys) Enabled() bool {
	return d != nil && d.enabled && len(d.keys) > 0
}

// Match returns the tier of rawKey when it exactly equals an allowlisted key.
func (d *DemoKeys) Match(rawKey string) (tier.Tier, bool) {
	if !d.Enabled() {
		return "", false
	}
	var (
		matched tier.Tier
		found   bool
	)
	for k, t := range d.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(rawKey)) == 1 {
			matched, found = t, true
		}
	}
	return matched, found
}
