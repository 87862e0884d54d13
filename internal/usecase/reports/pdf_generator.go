package reports

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/go-pdf/fpdf"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// PDFGenerator generates PDF reports
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Color definitions
var (
	colorPrimary = []int{37, 99, 235}   // Blue
	colorDanger  = []int{239, 68, 68}   // Red
	colorWarning = []int{245, 158, 11}  // Amber
	colorSuccess = []int{34, 197, 94}   // Green
	colorMuted   = []int{107, 114, 128} // Gray
	colorDark    = []int{31, 41, 55}    // Dark gray
	colorLight   = []int{243, 244, 246} // Light gray
	colorWhite   = []int{255, 255, 255}
)

var severityColors = map[entity.Severity][]int{
	entity.SeverityMalicious:     colorDanger,
	entity.SeveritySuspicious:    colorWarning,
	entity.SeverityClean:         colorSuccess,
	entity.SeverityInformational: colorPrimary,
	entity.SeverityUnknown:       colorMuted,
}

var reportSeverities = []entity.Severity{
	entity.SeverityMalicious,
	entity.SeveritySuspicious,
	entity.SeverityClean,
	entity.SeverityInformational,
	entity.SeverityUnknown,
}

// Generate creates a PDF report from the report data
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	g.addCoverPage(pdf, data)
	g.addSummary(pdf, data)
	g.addProviderSection(pdf, data)

	if len(data.Scans) > 0 {
		g.addScanTable(pdf, data)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	return buf.Bytes(), nil
}

// addCoverPage adds the cover page
func (g *PDFGenerator) addCoverPage(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, 210, 100, "F")

	pdf.SetTextColor(colorWhite[0], colorWhite[1], colorWhite[2])
	pdf.SetFont("Helvetica", "B", 30)
	pdf.SetY(35)
	pdf.CellFormat(0, 12, "IP REPUTATION", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.CellFormat(0, 8, "Multi-Provider Scan Report", "", 1, "C", false, 0, "")

	pdf.SetY(70)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 6, data.Period, "", 1, "C", false, 0, "")

	pdf.SetY(120)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("January 2, 2006 at 15:04 UTC")), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Completed scans: %s", g.formatNumber(data.Summary.TotalScans)), "", 1, "C", false, 0, "")
}

// addSummary adds metric cards and the severity distribution
func (g *PDFGenerator) addSummary(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()
	g.addSectionHeader(pdf, "Summary")

	sum := data.Summary
	startY := pdf.GetY() + 5
	g.drawMetricCard(pdf, 15, startY, 42, 22, "IPs Scanned", g.formatNumber(sum.TotalScans), colorPrimary)
	g.drawMetricCard(pdf, 60, startY, 42, 22, "Malicious", g.formatNumber(sum.BySeverity[entity.SeverityMalicious]), colorDanger)
	g.drawMetricCard(pdf, 105, startY, 42, 22, "Suspicious", g.formatNumber(sum.BySeverity[entity.SeveritySuspicious]), colorWarning)
	g.drawMetricCard(pdf, 150, startY, 42, 22, "Clean", g.formatNumber(sum.BySeverity[entity.SeverityClean]), colorSuccess)

	pdf.SetY(startY + 35)
	g.addSubHeader(pdf, "Overall Severity Distribution")

	total := sum.TotalScans
	if total == 0 {
		total = 1
	}

	barY := pdf.GetY() + 3
	for _, sev := range reportSeverities {
		g.drawHorizontalBar(pdf, 15, barY, 120, 8, string(sev), sum.BySeverity[sev], total, severityColors[sev])
		barY += 12
	}
	pdf.SetY(barY + 5)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	risky := sum.BySeverity[entity.SeverityMalicious] + sum.BySeverity[entity.SeveritySuspicious]
	pdf.MultiCell(0, 6, fmt.Sprintf(
		"%d of %d scanned addresses were flagged as risky by at least one provider. "+
			"%d provider calls were skipped by smart scan.",
		risky, sum.TotalScans, sum.SkippedCalls,
	), "", "L", false)
}

// addProviderSection adds per-provider status counts
func (g *PDFGenerator) addProviderSection(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.Ln(8)
	g.addSubHeader(pdf, "Provider Outcomes")

	statuses := []entity.ScanStatus{
		entity.StatusSuccess,
		entity.StatusNotFound,
		entity.StatusSkipped,
		entity.StatusRateLimited,
		entity.StatusKeyMissing,
		entity.StatusError,
	}
	headers := []string{"Provider", "Success", "Not Found", "Skipped", "Rate Ltd", "No Key", "Error"}
	widths := []float64{40, 23, 23, 23, 23, 23, 25}
	g.drawTableHeader(pdf, headers, widths)

	providers := make([]entity.Provider, 0, len(data.Summary.ProviderStatus))
	for p := range data.Summary.ProviderStatus {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	for i, p := range providers {
		counts := data.Summary.ProviderStatus[p]
		row := []string{string(p)}
		for _, st := range statuses {
			row = append(row, g.formatNumber(counts[st]))
		}
		g.drawTableRow(pdf, row, widths, i%2 == 1)
	}
}

// addScanTable lists every reported scan
func (g *PDFGenerator) addScanTable(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()
	g.addSectionHeader(pdf, "Scanned Addresses")

	headers := []string{"IP Address", "Mode", "Overall", "VirusTotal", "AbuseIPDB", "Scamalytics", "Completed"}
	widths := []float64{30, 14, 24, 28, 28, 28, 28}
	g.drawTableHeader(pdf, headers, widths)

	for i, scan := range data.Scans {
		row := []string{
			scan.IP,
			string(scan.Mode),
			string(scan.OverallSeverity),
			g.slotLabel(scan, entity.ProviderVirusTotal),
			g.slotLabel(scan, entity.ProviderAbuseIPDB),
			g.slotLabel(scan, entity.ProviderScamalytics),
			completedAt(scan).Format("01-02 15:04"),
		}
		g.drawTableRow(pdf, row, widths, i%2 == 1)
	}
}

// slotLabel shows the score for successful slots and the status otherwise
func (g *PDFGenerator) slotLabel(scan entity.AggregatedScanResult, p entity.Provider) string {
	r, ok := scan.Slot(p)
	if !ok {
		return "-"
	}
	if r.Status == entity.StatusSuccess {
		if r.Score != nil {
			return g.truncateString(fmt.Sprintf("%s (%d)", r.Severity, *r.Score), 18)
		}
		return string(r.Severity)
	}
	return string(r.Status)
}

// Helper functions

func (g *PDFGenerator) addSectionHeader(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(5)
}

func (g *PDFGenerator) addSubHeader(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (g *PDFGenerator) drawMetricCard(pdf *fpdf.Fpdf, x, y, w, h float64, label string, value string, color []int) {
	pdf.SetFillColor(colorLight[0], colorLight[1], colorLight[2])
	pdf.RoundedRect(x, y, w, h, 2, "1234", "F")

	// accent
	pdf.SetFillColor(color[0], color[1], color[2])
	pdf.Rect(x, y, 3, h, "F")

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
	pdf.SetXY(x+6, y+3)
	pdf.CellFormat(w-8, 4, label, "", 0, "L", false, 0, "")

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.SetXY(x+6, y+10)
	pdf.CellFormat(w-8, 8, value, "", 0, "L", false, 0, "")
}

func (g *PDFGenerator) drawHorizontalBar(pdf *fpdf.Fpdf, x, y, maxWidth, height float64, label string, value, maxValue int, color []int) {
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.SetXY(x, y)
	pdf.CellFormat(50, height, label, "", 0, "L", false, 0, "")

	barX := x + 52
	barWidth := maxWidth - 80
	pdf.SetFillColor(colorLight[0], colorLight[1], colorLight[2])
	pdf.Rect(barX, y+1, barWidth, height-2, "F")

	if maxValue > 0 && value > 0 {
		fillWidth := float64(value) / float64(maxValue) * barWidth
		pdf.SetFillColor(color[0], color[1], color[2])
		pdf.Rect(barX, y+1, fillWidth, height-2, "F")
	}

	pdf.SetXY(barX+barWidth+3, y)
	pdf.CellFormat(25, height, g.formatNumber(value), "", 0, "R", false, 0, "")
}

func (g *PDFGenerator) drawTableHeader(pdf *fpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.SetTextColor(colorWhite[0], colorWhite[1], colorWhite[2])
	pdf.SetFont("Helvetica", "B", 9)

	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func (g *PDFGenerator) drawTableRow(pdf *fpdf.Fpdf, values []string, widths []float64, alternate bool) {
	if alternate {
		pdf.SetFillColor(colorLight[0], colorLight[1], colorLight[2])
	} else {
		pdf.SetFillColor(colorWhite[0], colorWhite[1], colorWhite[2])
	}
	pdf.SetTextColor(colorDark[0], colorDark[1], colorDark[2])
	pdf.SetFont("Helvetica", "", 8)

	for i, value := range values {
		pdf.CellFormat(widths[i], 6, value, "", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func (g *PDFGenerator) formatNumber(n int) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

func (g *PDFGenerator) truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
