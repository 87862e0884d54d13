package reports

import (
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// XMLGenerator generates XML reports
type XMLGenerator struct{}

// NewXMLGenerator creates a new XML generator
func NewXMLGenerator() *XMLGenerator {
	return &XMLGenerator{}
}

// XMLReport represents the root XML structure
type XMLReport struct {
	XMLName     xml.Name      `xml:"IPReputationReport"`
	Version     string        `xml:"version,attr"`
	GeneratedAt string        `xml:"generatedAt,attr"`
	Period      string        `xml:"Period"`
	Summary     XMLSummary    `xml:"Summary"`
	Providers   []XMLProvider `xml:"Providers>Provider"`
	Scans       []XMLScan     `xml:"Scans>Scan"`
}

// XMLSummary contains the severity breakdown
type XMLSummary struct {
	TotalScans   int            `xml:"TotalScans"`
	SkippedCalls int            `xml:"SkippedCalls"`
	BySeverity   []XMLNameCount `xml:"BySeverity>Severity"`
}

// XMLNameCount is a generic name/count pair
type XMLNameCount struct {
	Name  string `xml:"name,attr"`
	Count int    `xml:"count,attr"`
}

// XMLProvider contains per-status counts of one provider
type XMLProvider struct {
	Name     string         `xml:"name,attr"`
	Statuses []XMLNameCount `xml:"Status"`
}

// XMLScan is one reported IP
type XMLScan struct {
	ID          string          `xml:"id,attr"`
	IP          string          `xml:"ip,attr"`
	Mode        string          `xml:"mode,attr"`
	Severity    string          `xml:"severity,attr"`
	CompletedAt string          `xml:"completedAt,attr"`
	Results     []XMLScanResult `xml:"Result"`
}

// XMLScanResult is one provider slot
type XMLScanResult struct {
	Provider string `xml:"provider,attr"`
	Status   string `xml:"status,attr"`
	Severity string `xml:"severity,attr"`
	Score    *int   `xml:"score,attr,omitempty"`
	Summary  string `xml:",chardata"`
}

// Generate creates an XML report from the report data
func (g *XMLGenerator) Generate(data *ReportData) ([]byte, error) {
	report := XMLReport{
		Version:     "1.0",
		GeneratedAt: data.GeneratedAt.Format(time.RFC3339),
		Period:      data.Period,
		Summary: XMLSummary{
			TotalScans:   data.Summary.TotalScans,
			SkippedCalls: data.Summary.SkippedCalls,
		},
	}

	for _, sev := range reportSeverities {
		if n := data.Summary.BySeverity[sev]; n > 0 {
			report.Summary.BySeverity = append(report.Summary.BySeverity, XMLNameCount{Name: string(sev), Count: n})
		}
	}

	for p, counts := range data.Summary.ProviderStatus {
		xp := XMLProvider{Name: string(p)}
		for st, n := range counts {
			xp.Statuses = append(xp.Statuses, XMLNameCount{Name: string(st), Count: n})
		}
		sort.Slice(xp.Statuses, func(i, j int) bool { return xp.Statuses[i].Name < xp.Statuses[j].Name })
		report.Providers = append(report.Providers, xp)
	}
	sort.Slice(report.Providers, func(i, j int) bool { return report.Providers[i].Name < report.Providers[j].Name })

	for _, scan := range data.Scans {
		report.Scans = append(report.Scans, toXMLScan(scan))
	}

	output, err := xml.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal XML: %w", err)
	}

	return append([]byte(xml.Header), output...), nil
}

func toXMLScan(scan entity.AggregatedScanResult) XMLScan {
	xs := XMLScan{
		ID:          scan.ID,
		IP:          scan.IP,
		Mode:        string(scan.Mode),
		Severity:    string(scan.OverallSeverity),
		CompletedAt: completedAt(scan).Format(time.RFC3339),
	}
	for _, r := range scan.Results {
		summary := r.Summary
		switch {
		case r.SkipReason != "":
			summary = r.SkipReason
		case r.ErrorDetail != "":
			summary = r.ErrorDetail
		}
		xs.Results = append(xs.Results, XMLScanResult{
			Provider: string(r.Provider),
			Status:   string(r.Status),
			Severity: string(r.Severity),
			Score:    r.Score,
			Summary:  summary,
		})
	}
	return xs
}
