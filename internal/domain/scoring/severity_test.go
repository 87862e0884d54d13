package scoring

import (
	"testing"

	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/stretchr/testify/assert"
)

func res(status entity.ScanStatus, sev entity.Severity) entity.ServiceScanResult {
	return entity.ServiceScanResult{Status: status, Severity: sev}
}

func TestResolveSeverity_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		results  []entity.ServiceScanResult
		expected entity.Severity
	}{
		{
			name:     "empty",
			results:  nil,
			expected: entity.SeverityUnknown,
		},
		{
			name: "suspicious beats clean, not_found ignored",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityClean),
				res(entity.StatusSuccess, entity.SeveritySuspicious),
				res(entity.StatusNotFound, entity.SeverityUnknown),
			},
			expected: entity.SeveritySuspicious,
		},
		{
			name: "only non-contributing statuses",
			results: []entity.ServiceScanResult{
				res(entity.StatusNotFound, entity.SeverityUnknown),
				res(entity.StatusSkipped, entity.SeverityUnknown),
				res(entity.StatusPending, entity.SeverityUnknown),
			},
			expected: entity.SeverityUnknown,
		},
		{
			name: "one malicious outranks two clean",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityClean),
				res(entity.StatusSuccess, entity.SeverityMalicious),
				res(entity.StatusSuccess, entity.SeverityClean),
			},
			expected: entity.SeverityMalicious,
		},
		{
			name: "informational is the lowest ranked verdict",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityInformational),
				res(entity.StatusSuccess, entity.SeverityUnknown),
			},
			expected: entity.SeverityInformational,
		},
		{
			name: "clean beats informational",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityInformational),
				res(entity.StatusSuccess, entity.SeverityClean),
			},
			expected: entity.SeverityClean,
		},
		{
			name: "success with unknown severity stays unknown",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityUnknown),
			},
			expected: entity.SeverityUnknown,
		},
		{
			name: "error carrying a severity contributes",
			results: []entity.ServiceScanResult{
				res(entity.StatusSuccess, entity.SeverityClean),
				res(entity.StatusError, entity.SeveritySuspicious),
			},
			expected: entity.SeveritySuspicious,
		},
		{
			name: "error without severity is ignored",
			results: []entity.ServiceScanResult{
				res(entity.StatusError, entity.SeverityUnknown),
				res(entity.StatusSuccess, entity.SeverityClean),
			},
			expected: entity.SeverityClean,
		},
		{
			name: "rate limited and key missing never move the verdict",
			results: []entity.ServiceScanResult{
				res(entity.StatusRateLimited, entity.SeverityMalicious),
				res(entity.StatusKeyMissing, entity.SeverityMalicious),
				res(entity.StatusSkipped, entity.SeverityMalicious),
			},
			expected: entity.SeverityUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveSeverity(tt.results))
		})
	}
}

func TestResolveSeverity_AllCombinations(t *testing.T) {
	severities := []entity.Severity{
		entity.SeverityMalicious,
		entity.SeveritySuspicious,
		entity.SeverityClean,
		entity.SeverityInformational,
		entity.SeverityUnknown,
	}

	for _, a := range severities {
		for _, b := range severities {
			for _, c := range severities {
				results := []entity.ServiceScanResult{
					res(entity.StatusSuccess, a),
					res(entity.StatusSuccess, b),
					res(entity.StatusSuccess, c),
				}

				expected := entity.SeverityUnknown
				for _, want := range severities[:4] {
					if a == want || b == want || c == want {
						expected = want
						break
					}
				}

				assert.Equal(t, expected, ResolveSeverity(results), "%s/%s/%s", a, b, c)
			}
		}
	}
}

func TestCountRisky(t *testing.T) {
	results := []entity.ServiceScanResult{
		res(entity.StatusSuccess, entity.SeverityMalicious),
		res(entity.StatusSuccess, entity.SeveritySuspicious),
		res(entity.StatusSuccess, entity.SeverityClean),
		res(entity.StatusNotFound, entity.SeverityUnknown),
	}
	assert.Equal(t, 2, CountRisky(results))
}
