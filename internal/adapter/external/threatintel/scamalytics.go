package threatintel

import (
	"context"
	"fmt"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// ScamalyticsClient produces Scamalytics-style fraud scores
type ScamalyticsClient struct {
	latency time.Duration
}

// ScamalyticsConfig holds Scamalytics client configuration
type ScamalyticsConfig struct {
	Latency time.Duration
}

// NewScamalyticsClient creates a new Scamalytics client
func NewScamalyticsClient(cfg ScamalyticsConfig) *ScamalyticsClient {
	return &ScamalyticsClient{latency: cfg.Latency}
}

// Provider returns the provider served by this client
func (c *ScamalyticsClient) Provider() entity.Provider {
	return entity.ProviderScamalytics
}

// Risk levels reported by Scamalytics
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskVeryHigh = "very_high"
)

var scamalyticsBlacklists = []string{"Firehol", "IP2Proxy Lite", "IPsum", "Spamhaus", "X4Bnet Spambot"}

// Scan returns the Scamalytics fraud assessment for an IP
func (c *ScamalyticsClient) Scan(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error) {
	if err := simulateLatency(ctx, c.latency); err != nil {
		return nil, fmt.Errorf("scamalytics request: %w", err)
	}

	if apiKey == "" {
		return keyMissing(c.Provider(), ip), nil
	}

	detailsURL := "https://scamalytics.com/ip/" + ip

	switch {
	case ip == "154.213.66.194":
		details := &entity.ScamalyticsDetails{
			FraudScore:      0,
			RiskLevel:       RiskLow,
			RiskDescription: "This IP address has a low fraud risk.",
			Operator: &entity.ScamalyticsOperator{
				ASN:            "AS215311",
				ISPName:        "Octopus Web Solution Inc.",
				OrgName:        "Octopus Web Solution Inc.",
				ConnectionType: "Data Center",
			},
			Location: &entity.ScamalyticsLocation{
				CountryName: "Hong Kong",
				CountryCode: "HK",
				State:       "Central and Western",
				City:        "Hong Kong",
				Latitude:    22.2842,
				Longitude:   114.1759,
			},
			IsDatacenter:       true,
			ExternalBlacklists: blacklistStatus(0, false),
			Proxy:              &entity.ScamalyticsProxy{IsServer: true},
		}
		return &entity.ServiceScanResult{
			Provider:    c.Provider(),
			IP:          ip,
			Status:      entity.StatusSuccess,
			Severity:    entity.SeverityClean,
			Score:       entity.IntPtr(0),
			Summary:     "Fraud Score: 0 (Low Risk)",
			Country:     details.Location.CountryName,
			ISP:         details.Operator.ISPName,
			DetailsURL:  detailsURL,
			Scamalytics: details,
		}, nil
	case isPrivate(ip):
		return &entity.ServiceScanResult{
			Provider:   c.Provider(),
			IP:         ip,
			Status:     entity.StatusSuccess,
			Severity:   entity.SeverityInformational,
			Score:      entity.IntPtr(0),
			Summary:    "Private IP address, fraud scoring is not applicable.",
			DetailsURL: detailsURL,
			Scamalytics: &entity.ScamalyticsDetails{
				RiskLevel:       RiskLow,
				RiskDescription: "Private or reserved address range.",
			},
		}, nil
	}

	octet, err := lastOctet(ip)
	if err != nil {
		return nil, err
	}

	if octet%25 == 0 {
		return &entity.ServiceScanResult{
			Provider:    c.Provider(),
			IP:          ip,
			Status:      entity.StatusError,
			Severity:    entity.SeverityUnknown,
			ErrorDetail: "Scamalytics API temporarily unavailable.",
			DetailsURL:  detailsURL,
		}, nil
	}

	var (
		severity entity.Severity
		score    int
		risk     string
	)
	switch {
	case octet > 220:
		severity, risk = entity.SeverityMalicious, RiskVeryHigh
		score = 90 + octet%11
	case octet > 150:
		severity, risk = entity.SeveritySuspicious, RiskHigh
		score = 70 + (octet%71)/4
	case octet > 75:
		severity, risk = entity.SeveritySuspicious, RiskMedium
		score = 30 + (octet%76)*2/5
	default:
		severity, risk = entity.SeverityClean, RiskLow
		score = octet % 30
	}

	listed := score >= 70
	details := &entity.ScamalyticsDetails{
		FraudScore:      score,
		RiskLevel:       risk,
		RiskDescription: fmt.Sprintf("This IP address has a %s fraud risk.", riskLabel(risk)),
		Operator: &entity.ScamalyticsOperator{
			ASN:            fmt.Sprintf("AS%d", 20000+octet*13),
			ISPName:        fmt.Sprintf("Mock Carrier %d", octet%9),
			ConnectionType: []string{"Data Center", "Residential", "Mobile"}[octet%3],
		},
		Location: &entity.ScamalyticsLocation{
			CountryName: []string{"United States", "Germany", "Netherlands", "Singapore"}[octet%4],
			CountryCode: []string{"US", "DE", "NL", "SG"}[octet%4],
		},
		IsDatacenter:       octet%3 == 0,
		ExternalBlacklists: blacklistStatus(octet, listed),
		Proxy: &entity.ScamalyticsProxy{
			IsVPN:         risk == RiskHigh && octet%2 == 0,
			IsTor:         risk == RiskVeryHigh && octet%4 == 0,
			IsPublicProxy: risk == RiskVeryHigh && octet%3 == 0,
			IsServer:      octet%3 == 0,
		},
		IsBlacklistedExternal: listed,
	}

	return &entity.ServiceScanResult{
		Provider:    c.Provider(),
		IP:          ip,
		Status:      entity.StatusSuccess,
		Severity:    severity,
		Score:       entity.IntPtr(score),
		Summary:     fmt.Sprintf("Fraud Score: %d (%s Risk)", score, riskLabel(risk)),
		Country:     details.Location.CountryName,
		ISP:         details.Operator.ISPName,
		DetailsURL:  detailsURL,
		Scamalytics: details,
	}, nil
}

func riskLabel(risk string) string {
	switch risk {
	case RiskVeryHigh:
		return "Very High"
	case RiskHigh:
		return "High"
	case RiskMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// blacklistStatus marks lists as listed for flagged IPs, choosing them by seed
func blacklistStatus(seed int, flagged bool) []entity.ScamalyticsBlacklist {
	out := make([]entity.ScamalyticsBlacklist, len(scamalyticsBlacklists))
	for i, name := range scamalyticsBlacklists {
		out[i] = entity.ScamalyticsBlacklist{
			Name:     name,
			IsListed: flagged && (seed+i)%2 == 0,
		}
	}
	return out
}
