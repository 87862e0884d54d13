package threatintel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// VirusTotalClient produces VirusTotal-style multi-engine verdicts
type VirusTotalClient struct {
	latency time.Duration
	now     func() time.Time
}

// VirusTotalConfig holds VirusTotal client configuration
type VirusTotalConfig struct {
	Latency time.Duration
}

// NewVirusTotalClient creates a new VirusTotal client
func NewVirusTotalClient(cfg VirusTotalConfig) *VirusTotalClient {
	return &VirusTotalClient{
		latency: cfg.Latency,
		now:     time.Now,
	}
}

// Provider returns the provider served by this client
func (c *VirusTotalClient) Provider() entity.Provider {
	return entity.ProviderVirusTotal
}

// vtEngines is the engine roster used for vendor verdicts
var vtEngines = []string{
	"alphaMountain.ai", "BitDefender", "CRDF", "CyRadar", "Forcepoint ThreatSeeker",
	"G-Data", "Gridinsoft", "Lionic", "VIPRE", "Webroot",
	"ArcSight Threat Intelligence", "GCP Abuse Intelligence", "Abusix", "Acronis",
	"ADMINUSLabs", "AILabs (MONITORAPP)", "AlienVault", "Antiy-AVL", "benkow.cc",
	"Blueliv", "Certego", "CINS Army", "CMC Threat Intelligence", "Criminal IP",
	"Cyble", "Dr.Web", "EmergingThreats", "Emsisoft", "ESET", "Fortinet",
	"Google Safebrowsing", "GreenSnow", "Heimdal Security", "IPsum",
	"Juniper Networks", "Kaspersky", "MalwarePatrol", "OpenPhish", "Phishtank",
	"Quick Heal", "Sophos", "Spam404", "StopForumSpam", "Sucuri SiteCheck",
	"Trustwave", "URLhaus", "ViriBack", "Yandex Safebrowsing", "ZeroCERT",
	"Netcraft", "zvelo",
}

// Scan returns the VirusTotal verdict for an IP
func (c *VirusTotalClient) Scan(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error) {
	if err := simulateLatency(ctx, c.latency); err != nil {
		return nil, fmt.Errorf("virustotal request: %w", err)
	}

	if apiKey == "" {
		return keyMissing(c.Provider(), ip), nil
	}

	detailsURL := "https://www.virustotal.com/gui/ip-address/" + ip
	now := c.now().UTC()

	if ip == "188.114.96.0" {
		analyzed := now.Add(-time.Hour)
		const malicious, suspicious, total = 10, 2, 94
		clean := total - malicious - suspicious - 5
		details := &entity.VirusTotalDetails{
			DetectionRatio:   fmt.Sprintf("%d/%d", malicious, total),
			MaliciousCount:   malicious,
			SuspiciousCount:  suspicious,
			TotalEngines:     total,
			CommunityScore:   -193,
			ASOwner:          "AS13335 (CLOUDFLARENET)",
			Country:          "US",
			LastAnalysisDate: &analyzed,
			VendorDetails:    vendorVerdicts(0, malicious, suspicious, clean),
		}
		return &entity.ServiceScanResult{
			Provider:     c.Provider(),
			IP:           ip,
			Status:       entity.StatusSuccess,
			Severity:     entity.SeverityMalicious,
			Score:        entity.IntPtr(malicious),
			Summary:      fmt.Sprintf("%d/%d security vendors flagged this IP address as malicious.", malicious, total),
			Country:      details.Country,
			ISP:          details.ASOwner,
			DetailsURL:   detailsURL,
			LastAnalysis: &analyzed,
			VirusTotal:   details,
		}, nil
	}

	octet, err := lastOctet(ip)
	if err != nil {
		return nil, err
	}

	if isPrivate(ip) || octet == 100 || octet%15 == 0 {
		summary := "IP address not found in VirusTotal dataset."
		if isPrivate(ip) {
			summary = "IP address is private or not found in VirusTotal dataset."
		}
		return &entity.ServiceScanResult{
			Provider:   c.Provider(),
			IP:         ip,
			Status:     entity.StatusNotFound,
			Severity:   entity.SeverityUnknown,
			Summary:    summary,
			Country:    "N/A",
			DetailsURL: detailsURL,
			VirusTotal: &entity.VirusTotalDetails{Country: "N/A", LastAnalysisDate: &now},
		}, nil
	}

	var (
		severity              entity.Severity
		summary               string
		malicious, suspicious int
	)
	total := 70 + octet%25

	switch {
	case octet > 200:
		severity = entity.SeverityMalicious
		malicious = 10 + octet%15
		suspicious = 2 + octet%5
		summary = fmt.Sprintf("High risk: %d engines detected threats.", malicious)
	case octet > 100:
		severity = entity.SeveritySuspicious
		malicious = 1 + octet%3
		suspicious = 5 + octet%10
		summary = fmt.Sprintf("Moderate risk: %d engines detected potential threats.", suspicious)
	default:
		severity = entity.SeverityClean
		suspicious = octet % 2
		summary = "Low risk: No significant threats detected by most engines."
	}
	clean := max(0, total-malicious-suspicious-octet%5)

	analyzed := now.Add(-time.Duration(octet) * 24 * time.Hour)
	details := &entity.VirusTotalDetails{
		DetectionRatio:   fmt.Sprintf("%d/%d", malicious, total),
		MaliciousCount:   malicious,
		SuspiciousCount:  suspicious,
		TotalEngines:     total,
		CommunityScore:   malicious*-10 + suspicious*-5 + clean + (octet%50 - 25),
		ASOwner:          fmt.Sprintf("AS%d Mock ISP Inc.", 1000+octet%500),
		Country:          []string{"US", "CA", "GB", "DE", "JP"}[octet%5],
		LastAnalysisDate: &analyzed,
		VendorDetails:    vendorVerdicts(octet, malicious, suspicious, clean),
	}

	return &entity.ServiceScanResult{
		Provider:     c.Provider(),
		IP:           ip,
		Status:       entity.StatusSuccess,
		Severity:     severity,
		Score:        entity.IntPtr(malicious),
		Summary:      summary,
		Country:      details.Country,
		ISP:          details.ASOwner,
		DetailsURL:   detailsURL,
		LastAnalysis: &analyzed,
		VirusTotal:   details,
	}, nil
}

// vendorVerdicts distributes verdicts over the engine roster, rotated by seed
func vendorVerdicts(seed, malicious, suspicious, clean int) []entity.VirusTotalVendorDetail {
	out := make([]entity.VirusTotalVendorDetail, 0, len(vtEngines))
	for i := range vtEngines {
		name := vtEngines[(seed+i)%len(vtEngines)]
		d := entity.VirusTotalVendorDetail{VendorName: name, Result: "Unrated"}

		switch {
		case i < malicious:
			d.Result = "Malicious"
			d.Category = []string{"Malware", "Phishing"}[i%2]
		case i < malicious+suspicious:
			d.Result = "Suspicious"
			d.Category = []string{"Miner", "Riskware"}[i%2]
		case i < malicious+suspicious+clean:
			d.Result = "Clean"
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].VendorName < out[j].VendorName
	})
	return out
}
