package scoring

import "github.com/kr1s57/ipreputation/internal/entity"

// ResolveSeverity reduces per-provider results to one overall verdict.
//
// Only successful lookups, and errors that still carry a ranked severity,
// contribute. The highest ranked severity wins (Malicious > Suspicious >
// Clean > Informational), so a single malicious verdict outranks any number
// of clean ones. With no contributing result the verdict is Unknown.
func ResolveSeverity(results []entity.ServiceScanResult) entity.Severity {
	best := entity.SeverityUnknown
	for _, r := range results {
		if !contributes(r) {
			continue
		}
		if r.Severity.Rank() > best.Rank() {
			best = r.Severity
		}
	}
	return best
}

// contributes reports whether a result may move the overall verdict
func contributes(r entity.ServiceScanResult) bool {
	switch r.Status {
	case entity.StatusSuccess:
		return true
	case entity.StatusError:
		return r.Severity.Rank() > 0
	default:
		// pending, skipped, not_found, key_missing, rate_limited
		return false
	}
}

// CountRisky returns how many results are Suspicious or Malicious
func CountRisky(results []entity.ServiceScanResult) int {
	n := 0
	for _, r := range results {
		if r.Severity.IsRisky() {
			n++
		}
	}
	return n
}
