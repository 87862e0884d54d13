package threatintel

import (
	"context"
	"fmt"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// AbuseIPDBClient produces AbuseIPDB-style abuse confidence reports
type AbuseIPDBClient struct {
	latency time.Duration
	now     func() time.Time
}

// AbuseIPDBConfig holds AbuseIPDB client configuration
type AbuseIPDBConfig struct {
	Latency time.Duration
}

// NewAbuseIPDBClient creates a new AbuseIPDB client
func NewAbuseIPDBClient(cfg AbuseIPDBConfig) *AbuseIPDBClient {
	return &AbuseIPDBClient{
		latency: cfg.Latency,
		now:     time.Now,
	}
}

// Provider returns the provider served by this client
func (c *AbuseIPDBClient) Provider() entity.Provider {
	return entity.ProviderAbuseIPDB
}

var (
	abuseCountries  = []string{"US", "CN", "RU", "BR", "IN"}
	abuseCities     = []string{"New York", "Beijing", "Moscow", "Sao Paulo", "Mumbai"}
	abuseUsageTypes = []string{"Data Center/Web Hosting/Transit", "Fixed Line ISP", "Mobile ISP", "Commercial"}
)

// Scan returns the AbuseIPDB report for an IP
func (c *AbuseIPDBClient) Scan(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error) {
	if err := simulateLatency(ctx, c.latency); err != nil {
		return nil, fmt.Errorf("abuseipdb request: %w", err)
	}

	if apiKey == "" {
		return keyMissing(c.Provider(), ip), nil
	}

	detailsURL := "https://www.abuseipdb.com/check/" + ip

	switch {
	case ip == "185.107.56.167":
		return &entity.ServiceScanResult{
			Provider:   c.Provider(),
			IP:         ip,
			Status:     entity.StatusNotFound,
			Severity:   entity.SeverityUnknown,
			Summary:    "This IP address has not been reported to AbuseIPDB.",
			Country:    "Netherlands",
			ISP:        "Serverhosting",
			DetailsURL: detailsURL,
			AbuseIPDB: &entity.AbuseIPDBDetails{
				ISP:         "Serverhosting",
				UsageType:   "Data Center/Web Hosting/Transit",
				DomainName:  "serverhosting.nl",
				CountryCode: "NL",
				City:        "Naaldwijk",
			},
		}, nil
	case isPrivate(ip):
		return &entity.ServiceScanResult{
			Provider:   c.Provider(),
			IP:         ip,
			Status:     entity.StatusNotFound,
			Severity:   entity.SeverityUnknown,
			Summary:    "Private IP address, no abuse reports are collected for it.",
			ISP:        "Private Network",
			DetailsURL: detailsURL,
			AbuseIPDB: &entity.AbuseIPDBDetails{
				ISP:       "Private Network",
				UsageType: "Reserved",
			},
		}, nil
	}

	octet, err := lastOctet(ip)
	if err != nil {
		return nil, err
	}

	if octet%20 == 0 {
		return &entity.ServiceScanResult{
			Provider:   c.Provider(),
			IP:         ip,
			Status:     entity.StatusNotFound,
			Severity:   entity.SeverityUnknown,
			Summary:    "IP address not found in AbuseIPDB.",
			DetailsURL: detailsURL,
		}, nil
	}

	var (
		severity entity.Severity
		score    int
	)
	switch {
	case octet > 180:
		severity = entity.SeverityMalicious
		score = 90 + octet%11
	case octet > 90:
		severity = entity.SeveritySuspicious
		score = 50 + octet%40
	default:
		severity = entity.SeverityClean
		score = octet % 50
	}

	details := &entity.AbuseIPDBDetails{
		AbuseConfidenceScore: score,
		ISP:                  fmt.Sprintf("Mock ISP %d", octet%7),
		UsageType:            abuseUsageTypes[octet%4],
		CountryCode:          abuseCountries[octet%5],
		City:                 abuseCities[octet%5],
		TotalReports:         (score / 10) * (5 + octet%10),
		IsWhitelisted:        score < 10 && octet%10 == 0,
	}
	if score > 0 {
		reported := c.now().UTC().Add(-time.Duration(octet) * 12 * time.Hour)
		details.LastReportedAt = &reported
	}
	if score > 10 {
		details.DomainName = fmt.Sprintf("mockdomain%d.com", octet)
	}

	return &entity.ServiceScanResult{
		Provider:     c.Provider(),
		IP:           ip,
		Status:       entity.StatusSuccess,
		Severity:     severity,
		Score:        entity.IntPtr(score),
		Summary:      fmt.Sprintf("Abuse Confidence Score: %d%%. Reported %d times.", score, details.TotalReports),
		Country:      details.CountryCode,
		ISP:          details.ISP,
		DetailsURL:   detailsURL,
		LastAnalysis: details.LastReportedAt,
		AbuseIPDB:    details,
	}, nil
}
