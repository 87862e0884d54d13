package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// execQuerier is the part of Connection the archive needs
type execQuerier interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
}

// ScanArchiveRepository keeps every finalized scan for long-term lookups
type ScanArchiveRepository struct {
	conn execQuerier
}

// NewScanArchiveRepository creates a new scan archive repository
func NewScanArchiveRepository(conn *Connection) *ScanArchiveRepository {
	return &ScanArchiveRepository{conn: conn}
}

const createScanArchive = `
	CREATE TABLE IF NOT EXISTS scan_archive (
		job_id String,
		ip String,
		mode LowCardinality(String),
		overall_severity LowCardinality(String),
		failed UInt8,
		error String,
		created_at DateTime64(3),
		completed_at DateTime64(3),
		results String
	) ENGINE = MergeTree()
	ORDER BY (ip, completed_at)
	TTL toDateTime(completed_at) + INTERVAL 180 DAY
`

// EnsureSchema creates the archive table when missing
func (r *ScanArchiveRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createScanArchive); err != nil {
		return fmt.Errorf("create scan_archive: %w", err)
	}
	return nil
}

// ArchiveScan inserts one finalized scan
func (r *ScanArchiveRepository) ArchiveScan(ctx context.Context, scan *entity.AggregatedScanResult) error {
	results, err := json.Marshal(scan.Results)
	if err != nil {
		return fmt.Errorf("marshal scan results: %w", err)
	}

	completedAt := time.Now().UTC()
	if scan.CompletedAt != nil {
		completedAt = *scan.CompletedAt
	}

	var failed uint8
	if scan.Error != "" {
		failed = 1
	}

	query := `
		INSERT INTO scan_archive (
			job_id, ip, mode, overall_severity, failed, error,
			created_at, completed_at, results
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := r.conn.Exec(ctx, query,
		scan.ID,
		scan.IP,
		string(scan.Mode),
		string(scan.OverallSeverity),
		failed,
		scan.Error,
		scan.CreatedAt,
		completedAt,
		string(results),
	); err != nil {
		return fmt.Errorf("insert scan archive: %w", err)
	}

	return nil
}

// ListByIP returns the most recent archived scans of an IP
func (r *ScanArchiveRepository) ListByIP(ctx context.Context, ip string, limit int) ([]entity.AggregatedScanResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT job_id, ip, mode, overall_severity, error, created_at, completed_at, results
		FROM scan_archive
		WHERE ip = ?
		ORDER BY completed_at DESC
		LIMIT ?
	`
	rows, err := r.conn.Query(ctx, query, ip, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan archive: %w", err)
	}
	defer rows.Close()

	scans := []entity.AggregatedScanResult{}
	for rows.Next() {
		var (
			scan           entity.AggregatedScanResult
			mode, severity string
			completedAt    time.Time
			results        string
		)
		if err := rows.Scan(
			&scan.ID,
			&scan.IP,
			&mode,
			&severity,
			&scan.Error,
			&scan.CreatedAt,
			&completedAt,
			&results,
		); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &scan.Results); err != nil {
			return nil, fmt.Errorf("unmarshal archived results: %w", err)
		}
		scan.Mode = entity.ScanMode(mode)
		scan.OverallSeverity = entity.Severity(severity)
		scan.CompletedAt = &completedAt
		scans = append(scans, scan)
	}

	return scans, rows.Err()
}

// SeverityCounts returns how many scans completed with each verdict since a time
func (r *ScanArchiveRepository) SeverityCounts(ctx context.Context, since time.Time) (map[entity.Severity]uint64, error) {
	query := `
		SELECT overall_severity, count()
		FROM scan_archive
		WHERE completed_at >= ? AND failed = 0
		GROUP BY overall_severity
	`
	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query severity counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Severity]uint64)
	for rows.Next() {
		var (
			severity string
			count    uint64
		)
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("severity count row: %w", err)
		}
		counts[entity.Severity(severity)] = count
	}

	return counts, rows.Err()
}
