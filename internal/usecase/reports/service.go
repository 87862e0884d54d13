package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

var ErrNoCompletedScans = fmt.Errorf("no completed scans to report")

// ScanSource provides the scan records a report is built from
type ScanSource interface {
	History() []entity.AggregatedScanResult
}

// ReportData holds all data needed for a report
type ReportData struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Period      string                        `json:"period"`
	Summary     ScanSummary                   `json:"summary"`
	Scans       []entity.AggregatedScanResult `json:"scans"`
}

// ScanSummary aggregates verdicts over the reported scans
type ScanSummary struct {
	TotalScans     int                                           `json:"total_scans"`
	BySeverity     map[entity.Severity]int                       `json:"by_severity"`
	ProviderStatus map[entity.Provider]map[entity.ScanStatus]int `json:"provider_status"`
	SkippedCalls   int                                           `json:"skipped_calls"`
}

// Service handles report generation
type Service struct {
	source       ScanSource
	pdfGenerator *PDFGenerator
	xmlGenerator *XMLGenerator
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a new reports service
func NewService(source ScanSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:       source,
		pdfGenerator: NewPDFGenerator(),
		xmlGenerator: NewXMLGenerator(),
		logger:       logger,
		now:          time.Now,
	}
}

// GenerateReport renders completed scans as pdf or xml
func (s *Service) GenerateReport(ctx context.Context, format string) ([]byte, string, error) {
	reportData, err := s.BuildReportData(ctx)
	if err != nil {
		return nil, "", err
	}

	var data []byte
	var filename string
	stamp := reportData.GeneratedAt.Format("2006-01-02-1504")

	switch format {
	case "pdf":
		data, err = s.pdfGenerator.Generate(reportData)
		filename = fmt.Sprintf("ip-reputation-report-%s.pdf", stamp)
	case "xml":
		data, err = s.xmlGenerator.Generate(reportData)
		filename = fmt.Sprintf("ip-reputation-report-%s.xml", stamp)
	default:
		return nil, "", fmt.Errorf("unsupported format: %s", format)
	}

	if err != nil {
		return nil, "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	s.logger.Info("Report generated successfully",
		"format", format,
		"scans", reportData.Summary.TotalScans,
		"size", len(data),
		"filename", filename,
	)

	return data, filename, nil
}

// BuildReportData collects completed, non-failed scans, newest first
func (s *Service) BuildReportData(_ context.Context) (*ReportData, error) {
	var scans []entity.AggregatedScanResult
	for _, scan := range s.source.History() {
		if scan.IsScanning || scan.Error != "" {
			continue
		}
		scans = append(scans, scan)
	}
	if len(scans) == 0 {
		return nil, ErrNoCompletedScans
	}

	sort.SliceStable(scans, func(i, j int) bool {
		return completedAt(scans[i]).After(completedAt(scans[j]))
	})

	return &ReportData{
		GeneratedAt: s.now().UTC(),
		Period:      formatPeriod(completedAt(scans[len(scans)-1]), completedAt(scans[0])),
		Summary:     summarize(scans),
		Scans:       scans,
	}, nil
}

func summarize(scans []entity.AggregatedScanResult) ScanSummary {
	sum := ScanSummary{
		TotalScans:     len(scans),
		BySeverity:     make(map[entity.Severity]int),
		ProviderStatus: make(map[entity.Provider]map[entity.ScanStatus]int),
	}
	for _, scan := range scans {
		sum.BySeverity[scan.OverallSeverity]++
		for _, r := range scan.Results {
			if sum.ProviderStatus[r.Provider] == nil {
				sum.ProviderStatus[r.Provider] = make(map[entity.ScanStatus]int)
			}
			sum.ProviderStatus[r.Provider][r.Status]++
			if r.Status == entity.StatusSkipped {
				sum.SkippedCalls++
			}
		}
	}
	return sum
}

func completedAt(scan entity.AggregatedScanResult) time.Time {
	if scan.CompletedAt != nil {
		return *scan.CompletedAt
	}
	return scan.CreatedAt
}

// formatPeriod formats the date range for display
func formatPeriod(startDate, endDate time.Time) string {
	if startDate.Format("2006-01-02") == endDate.Format("2006-01-02") {
		return startDate.Format("January 2, 2006")
	}
	return fmt.Sprintf("%s - %s", startDate.Format("Jan 2, 2006"), endDate.Format("Jan 2, 2006"))
}
