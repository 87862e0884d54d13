package entity

import (
	"errors"
	"strings"
)

// ErrUnknownProvider is returned when a provider name does not match any known provider
var ErrUnknownProvider = errors.New("unknown provider")

// Provider identifies an external IP reputation source
type Provider string

const (
	ProviderVirusTotal  Provider = "VirusTotal"
	ProviderAbuseIPDB   Provider = "AbuseIPDB"
	ProviderScamalytics Provider = "Scamalytics"
)

// AllProviders returns the fixed, ordered set of known providers.
// Every aggregate record carries exactly one slot per entry of this list.
func AllProviders() []Provider {
	return []Provider{ProviderVirusTotal, ProviderAbuseIPDB, ProviderScamalytics}
}

// ParseProvider resolves a provider name, ignoring case
func ParseProvider(name string) (Provider, error) {
	for _, p := range AllProviders() {
		if strings.EqualFold(string(p), strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return "", ErrUnknownProvider
}

// IsKnown reports whether p is one of AllProviders
func (p Provider) IsKnown() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}

// Severity is the normalized risk verdict for an IP
type Severity string

const (
	SeverityMalicious     Severity = "Malicious"
	SeveritySuspicious    Severity = "Suspicious"
	SeverityClean         Severity = "Clean"
	SeverityInformational Severity = "Informational"
	SeverityUnknown       Severity = "Unknown"
)

// Rank returns the aggregation precedence of the severity.
// Unknown (and anything unrecognized) is unranked and returns 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMalicious:
		return 4
	case SeveritySuspicious:
		return 3
	case SeverityClean:
		return 2
	case SeverityInformational:
		return 1
	default:
		return 0
	}
}

// IsRisky reports whether the severity is Suspicious or Malicious
func (s Severity) IsRisky() bool {
	return s == SeveritySuspicious || s == SeverityMalicious
}

// ScanStatus is the state of one provider slot
type ScanStatus string

const (
	StatusPending     ScanStatus = "pending"
	StatusSuccess     ScanStatus = "success"
	StatusError       ScanStatus = "error"
	StatusRateLimited ScanStatus = "rate_limited"
	StatusKeyMissing  ScanStatus = "key_missing"
	StatusSkipped     ScanStatus = "skipped"
	StatusNotFound    ScanStatus = "not_found"
)

// IsTerminal reports whether no further transition can happen from this status
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusRateLimited, StatusKeyMissing, StatusSkipped, StatusNotFound:
		return true
	default:
		return false
	}
}

// Display tones for presentation layers
const (
	ToneWarning = "warning" // actionable: error, rate_limited, key_missing
	ToneInfo    = "info"    // informational: not_found, skipped
	ToneDetail  = "detail"  // full rendering by severity
	TonePending = "pending"
)

// Tone returns how a presentation layer should render the status
func (s ScanStatus) Tone() string {
	switch s {
	case StatusError, StatusRateLimited, StatusKeyMissing:
		return ToneWarning
	case StatusNotFound, StatusSkipped:
		return ToneInfo
	case StatusSuccess:
		return ToneDetail
	default:
		return TonePending
	}
}

// ScanMode selects how providers are dispatched for one IP
type ScanMode string

const (
	ScanModeFull  ScanMode = "full"
	ScanModeSmart ScanMode = "smart"
)

// ParseScanMode resolves a scan mode; empty input defaults to smart
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ScanModeSmart):
		return ScanModeSmart, nil
	case string(ScanModeFull):
		return ScanModeFull, nil
	default:
		return "", errors.New("invalid scan mode: " + s)
	}
}
