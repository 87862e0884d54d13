package threatintel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allClients() []Client {
	return []Client{
		NewVirusTotalClient(VirusTotalConfig{}),
		NewAbuseIPDBClient(AbuseIPDBConfig{}),
		NewScamalyticsClient(ScamalyticsConfig{}),
	}
}

// =============================================================================
// Contract
// =============================================================================

func TestClients_KeyMissing(t *testing.T) {
	for _, c := range allClients() {
		t.Run(string(c.Provider()), func(t *testing.T) {
			res, err := c.Scan(context.Background(), "8.8.8.8", "")
			require.NoError(t, err)
			assert.Equal(t, entity.StatusKeyMissing, res.Status)
			assert.Equal(t, entity.SeverityUnknown, res.Severity)
			assert.Equal(t, c.Provider(), res.Provider)
			assert.NotEmpty(t, res.ErrorDetail)
		})
	}
}

func TestClients_InvalidIPReturnsError(t *testing.T) {
	for _, c := range allClients() {
		t.Run(string(c.Provider()), func(t *testing.T) {
			_, err := c.Scan(context.Background(), "not-an-ip", "key")
			assert.Error(t, err)

			_, err = c.Scan(context.Background(), "2001:db8::1", "key")
			assert.Error(t, err)
		})
	}
}

func TestClients_SeverityUnknownUnlessSuccess(t *testing.T) {
	for _, c := range allClients() {
		for octet := 1; octet < 255; octet++ {
			ip := fmt.Sprintf("45.33.32.%d", octet)
			res, err := c.Scan(context.Background(), ip, "key")
			require.NoError(t, err, ip)
			require.True(t, res.Status.IsTerminal(), ip)
			assert.Equal(t, ip, res.IP)
			if res.Status != entity.StatusSuccess {
				assert.Equal(t, entity.SeverityUnknown, res.Severity, "%s %s", c.Provider(), ip)
			}
		}
	}
}

func TestClients_ScoreMonotonicWithSeverity(t *testing.T) {
	for _, c := range allClients() {
		t.Run(string(c.Provider()), func(t *testing.T) {
			type point struct {
				score int
				rank  int
			}
			var points []point
			for octet := 1; octet < 255; octet++ {
				res, err := c.Scan(context.Background(), fmt.Sprintf("45.33.32.%d", octet), "key")
				require.NoError(t, err)
				if res.Status != entity.StatusSuccess || res.Score == nil {
					continue
				}
				points = append(points, point{*res.Score, res.Severity.Rank()})
			}
			require.NotEmpty(t, points)

			for _, a := range points {
				for _, b := range points {
					if a.score > b.score {
						assert.GreaterOrEqual(t, a.rank, b.rank, "score %d ranked below score %d", a.score, b.score)
					}
				}
			}
		})
	}
}

func TestClients_Deterministic(t *testing.T) {
	for _, c := range allClients() {
		first, err := c.Scan(context.Background(), "203.0.113.77", "key")
		require.NoError(t, err)
		second, err := c.Scan(context.Background(), "203.0.113.77", "key")
		require.NoError(t, err)

		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Severity, second.Severity)
		assert.Equal(t, first.Score, second.Score)
	}
}

func TestClients_LatencyHonoursContext(t *testing.T) {
	c := NewVirusTotalClient(VirusTotalConfig{Latency: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scan(ctx, "8.8.8.8", "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// =============================================================================
// VirusTotal
// =============================================================================

func TestVirusTotal_Tiers(t *testing.T) {
	c := NewVirusTotalClient(VirusTotalConfig{})

	tests := []struct {
		ip       string
		status   entity.ScanStatus
		severity entity.Severity
		score    int
	}{
		{"45.33.32.250", entity.StatusSuccess, entity.SeverityMalicious, 20},
		{"45.33.32.130", entity.StatusSuccess, entity.SeveritySuspicious, 2},
		{"45.33.32.50", entity.StatusSuccess, entity.SeverityClean, 0},
		{"45.33.32.100", entity.StatusNotFound, entity.SeverityUnknown, 0},
		{"45.33.32.150", entity.StatusNotFound, entity.SeverityUnknown, 0},
		{"192.168.2.54", entity.StatusNotFound, entity.SeverityUnknown, 0},
		{"188.114.96.0", entity.StatusSuccess, entity.SeverityMalicious, 10},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			res, err := c.Scan(context.Background(), tt.ip, "key")
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.severity, res.Severity)
			if tt.status == entity.StatusSuccess {
				require.NotNil(t, res.Score)
				assert.Equal(t, tt.score, *res.Score)
				require.NotNil(t, res.VirusTotal)
				assert.Equal(t, tt.score, res.VirusTotal.MaliciousCount)
			}
		})
	}
}

func TestVirusTotal_PinnedCloudflare(t *testing.T) {
	c := NewVirusTotalClient(VirusTotalConfig{})

	res, err := c.Scan(context.Background(), "188.114.96.0", "key")
	require.NoError(t, err)
	require.NotNil(t, res.VirusTotal)

	assert.Equal(t, "10/94", res.VirusTotal.DetectionRatio)
	assert.Equal(t, -193, res.VirusTotal.CommunityScore)
	assert.Equal(t, "AS13335 (CLOUDFLARENET)", res.VirusTotal.ASOwner)
	assert.Equal(t, "https://www.virustotal.com/gui/ip-address/188.114.96.0", res.DetailsURL)
}

func TestVirusTotal_VendorVerdicts(t *testing.T) {
	c := NewVirusTotalClient(VirusTotalConfig{})

	res, err := c.Scan(context.Background(), "45.33.32.250", "key")
	require.NoError(t, err)

	vendors := res.VirusTotal.VendorDetails
	require.Len(t, vendors, len(vtEngines))

	malicious := 0
	for i, v := range vendors {
		if i > 0 {
			assert.LessOrEqual(t, vendors[i-1].VendorName, v.VendorName)
		}
		if v.Result == "Malicious" {
			malicious++
		}
	}
	assert.Equal(t, res.VirusTotal.MaliciousCount, malicious)
}

// =============================================================================
// AbuseIPDB
// =============================================================================

func TestAbuseIPDB_Tiers(t *testing.T) {
	c := NewAbuseIPDBClient(AbuseIPDBConfig{})

	tests := []struct {
		ip       string
		status   entity.ScanStatus
		severity entity.Severity
		score    int
	}{
		{"45.33.32.190", entity.StatusSuccess, entity.SeverityMalicious, 93},
		{"45.33.32.130", entity.StatusSuccess, entity.SeveritySuspicious, 60},
		{"45.33.32.45", entity.StatusSuccess, entity.SeverityClean, 45},
		{"45.33.32.200", entity.StatusNotFound, entity.SeverityUnknown, 0},
		{"185.107.56.167", entity.StatusNotFound, entity.SeverityUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			res, err := c.Scan(context.Background(), tt.ip, "key")
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.severity, res.Severity)
			if tt.status == entity.StatusSuccess {
				require.NotNil(t, res.Score)
				assert.Equal(t, tt.score, *res.Score)
				assert.Equal(t, tt.score, res.AbuseIPDB.AbuseConfidenceScore)
			}
		})
	}
}

func TestAbuseIPDB_ReportDetails(t *testing.T) {
	c := NewAbuseIPDBClient(AbuseIPDBConfig{})

	res, err := c.Scan(context.Background(), "45.33.32.45", "key")
	require.NoError(t, err)
	assert.Equal(t, 40, res.AbuseIPDB.TotalReports)
	assert.NotNil(t, res.AbuseIPDB.LastReportedAt)
	assert.Equal(t, "mockdomain45.com", res.AbuseIPDB.DomainName)

	res, err = c.Scan(context.Background(), "45.33.32.50", "key")
	require.NoError(t, err)
	assert.Equal(t, 0, *res.Score)
	assert.True(t, res.AbuseIPDB.IsWhitelisted)
	assert.Nil(t, res.AbuseIPDB.LastReportedAt)
	assert.Empty(t, res.AbuseIPDB.DomainName)
}

func TestAbuseIPDB_PinnedNotFoundKeepsMetadata(t *testing.T) {
	c := NewAbuseIPDBClient(AbuseIPDBConfig{})

	res, err := c.Scan(context.Background(), "185.107.56.167", "key")
	require.NoError(t, err)
	require.NotNil(t, res.AbuseIPDB)
	assert.Equal(t, "Serverhosting", res.AbuseIPDB.ISP)
	assert.Equal(t, "NL", res.AbuseIPDB.CountryCode)
}

// =============================================================================
// Scamalytics
// =============================================================================

func TestScamalytics_Tiers(t *testing.T) {
	c := NewScamalyticsClient(ScamalyticsConfig{})

	tests := []struct {
		ip       string
		status   entity.ScanStatus
		severity entity.Severity
		score    int
		risk     string
	}{
		{"45.33.32.230", entity.StatusSuccess, entity.SeverityMalicious, 100, RiskVeryHigh},
		{"45.33.32.201", entity.StatusSuccess, entity.SeveritySuspicious, 84, RiskHigh},
		{"45.33.32.101", entity.StatusSuccess, entity.SeveritySuspicious, 40, RiskMedium},
		{"45.33.32.10", entity.StatusSuccess, entity.SeverityClean, 10, RiskLow},
		{"154.213.66.194", entity.StatusSuccess, entity.SeverityClean, 0, RiskLow},
		{"192.168.2.54", entity.StatusSuccess, entity.SeverityInformational, 0, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			res, err := c.Scan(context.Background(), tt.ip, "key")
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.severity, res.Severity)
			require.NotNil(t, res.Score)
			assert.Equal(t, tt.score, *res.Score)
			assert.Equal(t, tt.risk, res.Scamalytics.RiskLevel)
		})
	}
}

func TestScamalytics_TemporaryErrorIsResult(t *testing.T) {
	c := NewScamalyticsClient(ScamalyticsConfig{})

	res, err := c.Scan(context.Background(), "45.33.32.250", "key")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusError, res.Status)
	assert.Equal(t, entity.SeverityUnknown, res.Severity)
	assert.NotEmpty(t, res.ErrorDetail)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_DefaultProviders(t *testing.T) {
	reg := NewDefaultRegistry(MockConfig{})

	assert.Equal(t, entity.AllProviders(), reg.Providers())
	for _, p := range entity.AllProviders() {
		c, ok := reg.Get(p)
		require.True(t, ok)
		assert.Equal(t, p, c.Provider())
	}

	_, ok := reg.Get(entity.Provider("Shodan"))
	assert.False(t, ok)
}
