package domain

import "strings"

// DegradationPolicyMode enumerates supported behaviors when blacklist caches
// cannot answer.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient falls through to the durable store when the
	// blacklist cache is cold or unavailable.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects tokens whenever blacklist state
	// cannot be confirmed.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures the context for which a fallback decision is evaluated.
type DegradationReason string

const (
	// DegradationReasonCacheMiss indicates the cache lacks an entry for the evaluated jti.
	DegradationReasonCacheMiss DegradationReason = "cache_miss"
	// DegradationReasonCacheUnavailable denotes redis blacklist lookups failed or timed out.
	DegradationReasonCacheUnavailable DegradationReason = "cache_unavailable"
	// DegradationReasonStoreUnavailable denotes the durable blacklist store could not be reached.
	DegradationReasonStoreUnavailable DegradationReason = "store_unavailable"
)

// DegradationPolicy centralises how blacklist checks respond when revocation
// data is missing or stale.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// IsLenient indicates whether the policy permits degraded states.
func (p DegradationPolicy) IsLenient() bool {
	return !p.IsStrict()
}

// AllowsFallback determines if the policy permits continuing when the supplied reason occurs.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	return p.IsLenient()
}
