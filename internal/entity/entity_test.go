package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" virustotal ")
	require.NoError(t, err)
	assert.Equal(t, ProviderVirusTotal, p)

	_, err = ParseProvider("shodan")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.True(t, ProviderScamalytics.IsKnown())
	assert.False(t, Provider("Shodan").IsKnown())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityMalicious.Rank(), SeveritySuspicious.Rank())
	assert.Greater(t, SeveritySuspicious.Rank(), SeverityClean.Rank())
	assert.Greater(t, SeverityClean.Rank(), SeverityInformational.Rank())
	assert.Equal(t, 0, SeverityUnknown.Rank())
	assert.Equal(t, 0, Severity("Critical").Rank())

	assert.True(t, SeverityMalicious.IsRisky())
	assert.True(t, SeveritySuspicious.IsRisky())
	assert.False(t, SeverityClean.IsRisky())
}

func TestScanStatus_TerminalAndTone(t *testing.T) {
	tests := []struct {
		status   ScanStatus
		terminal bool
		tone     string
	}{
		{StatusPending, false, TonePending},
		{StatusSuccess, true, ToneDetail},
		{StatusError, true, ToneWarning},
		{StatusRateLimited, true, ToneWarning},
		{StatusKeyMissing, true, ToneWarning},
		{StatusSkipped, true, ToneInfo},
		{StatusNotFound, true, ToneInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.tone, tt.status.Tone())
		})
	}
}

func TestParseScanMode(t *testing.T) {
	mode, err := ParseScanMode("")
	require.NoError(t, err)
	assert.Equal(t, ScanModeSmart, mode)

	mode, err = ParseScanMode("FULL")
	require.NoError(t, err)
	assert.Equal(t, ScanModeFull, mode)

	_, err = ParseScanMode("deep")
	assert.Error(t, err)
}

func TestAggregatedScanResult_Slots(t *testing.T) {
	scan := NewPendingScan("job-1", "45.33.32.50", ScanModeSmart, AllProviders(), time.Now())

	require.Len(t, scan.Results, 3)
	assert.True(t, scan.IsScanning)
	assert.True(t, scan.HasPending())
	assert.Equal(t, SeverityUnknown, scan.OverallSeverity)

	ok := scan.ReplaceSlot(ServiceScanResult{Provider: ProviderAbuseIPDB, Status: StatusNotFound, Severity: SeverityUnknown})
	assert.True(t, ok)
	slot, found := scan.Slot(ProviderAbuseIPDB)
	require.True(t, found)
	assert.Equal(t, StatusNotFound, slot.Status)

	assert.False(t, scan.ReplaceSlot(ServiceScanResult{Provider: "Shodan", Status: StatusSuccess}))
	assert.Len(t, scan.Results, 3)

	for _, p := range []Provider{ProviderVirusTotal, ProviderScamalytics} {
		scan.ReplaceSlot(ServiceScanResult{Provider: p, Status: StatusSkipped, Severity: SeverityUnknown})
	}
	assert.False(t, scan.HasPending())
}

func TestAggregatedScanResult_CloneIsIndependent(t *testing.T) {
	done := time.Now()
	scan := NewPendingScan("job-1", "45.33.32.50", ScanModeFull, AllProviders(), done)
	scan.CompletedAt = &done

	clone := scan.Clone()
	clone.ReplaceSlot(ServiceScanResult{Provider: ProviderVirusTotal, Status: StatusSuccess})
	*clone.CompletedAt = done.Add(time.Hour)

	slot, _ := scan.Slot(ProviderVirusTotal)
	assert.Equal(t, StatusPending, slot.Status)
	assert.Equal(t, done, *scan.CompletedAt)
}

func TestAPIKeyConfig_Masked(t *testing.T) {
	assert.Equal(t, "abcd****6789", APIKeyConfig{Secret: "abcdef0123456789"}.Masked().Secret)
	assert.Equal(t, "****", APIKeyConfig{Secret: "short"}.Masked().Secret)
	assert.Equal(t, "", APIKeyConfig{}.Masked().Secret)
}

func TestKeySet_SortedOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := KeySet{
		ProviderVirusTotal: {
			{ID: "c", AddedAt: base.Add(time.Hour)},
			{ID: "b", AddedAt: base},
			{ID: "a", AddedAt: base},
		},
	}

	sorted := ks.Sorted(ProviderVirusTotal)
	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "c", ks[ProviderVirusTotal][0].ID, "source pool is not reordered")

	clone := ks.Clone()
	clone[ProviderVirusTotal][0].ID = "z"
	assert.Equal(t, "c", ks[ProviderVirusTotal][0].ID)
}
