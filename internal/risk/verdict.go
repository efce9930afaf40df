package risk

var defaultPolicy = DefaultPolicy()

// Classify maps a risk value to a verdict using the default bands:
// above 0.80 blocks, above 0.50 challenges, anything else is allowed.
func Classify(r float64) Verdict {
	return defaultPolicy.Classify(r)
}

// Severity returns a coarse label for dashboards and alert subjects.
func (v Verdict) Severity() string {
	switch v {
	case VerdictBlock:
		return "critical"
	case VerdictMFAChallenge:
		return "elevated"
	default:
		return "low"
	}
}
