package entity

import "time"

// VirusTotalVendorDetail is one engine verdict
type VirusTotalVendorDetail struct {
	VendorName string `json:"vendor_name"`
	Result     string `json:"result"` // Malicious, Suspicious, Clean, Unrated
	Category   string `json:"category,omitempty"`
}

// VirusTotalDetails is the VirusTotal-specific payload
type VirusTotalDetails struct {
	DetectionRatio   string                   `json:"detection_ratio,omitempty"`
	MaliciousCount   int                      `json:"malicious_count"`
	SuspiciousCount  int                      `json:"suspicious_count"`
	TotalEngines     int                      `json:"total_engines"`
	CommunityScore   int                      `json:"community_score"`
	ASOwner          string                   `json:"as_owner,omitempty"`
	Country          string                   `json:"country,omitempty"`
	LastAnalysisDate *time.Time               `json:"last_analysis_date,omitempty"`
	VendorDetails    []VirusTotalVendorDetail `json:"vendor_details,omitempty"`
}

// AbuseIPDBDetails is the AbuseIPDB-specific payload
type AbuseIPDBDetails struct {
	AbuseConfidenceScore int        `json:"abuse_confidence_score"`
	ISP                  string     `json:"isp,omitempty"`
	UsageType            string     `json:"usage_type,omitempty"`
	DomainName           string     `json:"domain_name,omitempty"`
	CountryCode          string     `json:"country_code,omitempty"`
	City                 string     `json:"city,omitempty"`
	TotalReports         int        `json:"total_reports"`
	IsWhitelisted        bool       `json:"is_whitelisted"`
	LastReportedAt       *time.Time `json:"last_reported_at,omitempty"`
}

// ScamalyticsOperator describes who operates the IP
type ScamalyticsOperator struct {
	ASN            string `json:"asn,omitempty"`
	ISPName        string `json:"isp_name,omitempty"`
	OrgName        string `json:"org_name,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// ScamalyticsLocation is the geolocation reported by Scamalytics
type ScamalyticsLocation struct {
	CountryName string  `json:"country_name,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	State       string  `json:"state,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// ScamalyticsBlacklist is the listing status on one external blacklist
type ScamalyticsBlacklist struct {
	Name     string `json:"name"`
	IsListed bool   `json:"is_listed"`
}

// ScamalyticsProxy contains anonymizer flags
type ScamalyticsProxy struct {
	IsVPN               bool `json:"is_vpn"`
	IsTor               bool `json:"is_tor"`
	IsPublicProxy       bool `json:"is_public_proxy"`
	IsWebProxy          bool `json:"is_web_proxy"`
	IsSearchEngineRobot bool `json:"is_search_engine_robot"`
	IsServer            bool `json:"is_server"`
}

// ScamalyticsDetails is the Scamalytics-specific payload
type ScamalyticsDetails struct {
	FraudScore            int                    `json:"fraud_score"`
	RiskLevel             string                 `json:"risk_level"` // low, medium, high, very_high, unknown
	RiskDescription       string                 `json:"risk_description,omitempty"`
	Operator              *ScamalyticsOperator   `json:"operator,omitempty"`
	Location              *ScamalyticsLocation   `json:"location,omitempty"`
	IsDatacenter          bool                   `json:"is_datacenter"`
	ExternalBlacklists    []ScamalyticsBlacklist `json:"external_blacklists,omitempty"`
	Proxy                 *ScamalyticsProxy      `json:"proxy,omitempty"`
	IsBlacklistedExternal bool                   `json:"is_blacklisted_external"`
}

// ServiceScanResult is one provider's outcome for one IP.
// Results are replaced, never mutated, once they leave the producer.
type ServiceScanResult struct {
	Provider     Provider   `json:"provider"`
	IP           string     `json:"ip"`
	Status       ScanStatus `json:"status"`
	Severity     Severity   `json:"severity"`
	Score        *int       `json:"score,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	SkipReason   string     `json:"skip_reason,omitempty"`
	UsedKeyID    string     `json:"used_key_id,omitempty"`
	Country      string     `json:"country,omitempty"`
	ISP          string     `json:"isp,omitempty"`
	DetailsURL   string     `json:"details_url,omitempty"`
	LastAnalysis *time.Time `json:"last_analysis,omitempty"`

	// Provider-specific payloads, at most one is set
	VirusTotal  *VirusTotalDetails  `json:"virustotal,omitempty"`
	AbuseIPDB   *AbuseIPDBDetails   `json:"abuseipdb,omitempty"`
	Scamalytics *ScamalyticsDetails `json:"scamalytics,omitempty"`
}

// IntPtr is a helper for optional scores
func IntPtr(v int) *int {
	return &v
}

// AggregatedScanResult is one IP's full scan across all providers
type AggregatedScanResult struct {
	ID              string              `json:"id"`
	IP              string              `json:"ip"`
	Mode            ScanMode            `json:"mode"`
	Results         []ServiceScanResult `json:"results"`
	OverallSeverity Severity            `json:"overall_severity"`
	IsScanning      bool                `json:"is_scanning"`
	Error           string              `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// NewPendingScan creates a scanning aggregate with one pending slot per provider
func NewPendingScan(id, ip string, mode ScanMode, providers []Provider, now time.Time) *AggregatedScanResult {
	results := make([]ServiceScanResult, 0, len(providers))
	for _, p := range providers {
		results = append(results, ServiceScanResult{
			Provider: p,
			IP:       ip,
			Status:   StatusPending,
			Severity: SeverityUnknown,
		})
	}
	return &AggregatedScanResult{
		ID:              id,
		IP:              ip,
		Mode:            mode,
		Results:         results,
		OverallSeverity: SeverityUnknown,
		IsScanning:      true,
		CreatedAt:       now,
	}
}

// Slot returns the provider's current result
func (a *AggregatedScanResult) Slot(p Provider) (ServiceScanResult, bool) {
	for _, r := range a.Results {
		if r.Provider == p {
			return r, true
		}
	}
	return ServiceScanResult{}, false
}

// ReplaceSlot swaps the slot addressed by r.Provider.
// Returns false (and changes nothing) when the aggregate has no such slot.
func (a *AggregatedScanResult) ReplaceSlot(r ServiceScanResult) bool {
	for i := range a.Results {
		if a.Results[i].Provider == r.Provider {
			a.Results[i] = r
			return true
		}
	}
	return false
}

// HasPending reports whether any slot is still non-terminal
func (a *AggregatedScanResult) HasPending() bool {
	for _, r := range a.Results {
		if !r.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// Clone returns a copy whose result slice can be modified independently
func (a *AggregatedScanResult) Clone() *AggregatedScanResult {
	out := *a
	out.Results = append([]ServiceScanResult(nil), a.Results...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
