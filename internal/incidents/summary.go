package incidents

import (
	"fmt"

	"github.com/securewatch/securewatch/internal/risk"
)

// Summarize builds the analyst narrative for a record from its reason,
// risk and request context.
func Summarize(r *Record) string {
	where := r.Location
	if where == "" {
		where = "an unknown location"
	}
	pct := r.Risk * 100

	var finding string
	switch r.Reason {
	case risk.ReasonVerifiedSafe:
		finding = "The login matched a verified-safe device profile and was allowed without further checks."
	case risk.ReasonFraudRing:
		finding = fmt.Sprintf("Identity %s is linked to a known fraud ring through shared network infrastructure.", r.Identity)
	case risk.ReasonBotBehavior:
		finding = "The action sequence repeats with machine regularity, consistent with scripted or bot-driven access."
	case risk.ReasonImpossibleTravel:
		finding = fmt.Sprintf("The login from %s is geographically inconsistent with recent activity for %s.", where, r.Identity)
	case risk.ReasonHighCumulativeRisk:
		finding = "No single signal was decisive, but the combined anomaly signals exceed the cumulative risk threshold."
	default:
		finding = "Behavioural, device and network signals are within the normal range for this account."
	}

	return fmt.Sprintf("%s Risk assessed at %.1f%% from %s (IP %s, device %s); verdict %s.",
		finding, pct, where, orUnknown(r.IP), orUnknown(r.Device), r.Verdict)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
