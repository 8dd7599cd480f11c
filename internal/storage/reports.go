// Package storage provides database access for the telemetry service
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ReportStore archives delivered report payloads for offline analysis.
// Archiving is best-effort: the delivery pipeline logs failures and moves on.
type ReportStore struct {
	db *sql.DB
}

// NewReportStore creates a new report store
func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

// EnsureSchema creates the report tables if they do not exist
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS auction_reports (
			id BIGSERIAL PRIMARY KEY,
			auction_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS auction_reports_auction_id_idx ON auction_reports (auction_id);

		CREATE TABLE IF NOT EXISTS win_reports (
			id BIGSERIAL PRIMARY KEY,
			auction_id TEXT NOT NULL,
			ad_unit_code TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS win_reports_auction_id_idx ON win_reports (auction_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create report schema: %w", err)
	}
	return nil
}

// SaveAuctionReport archives one auction payload.
// Implements delivery.Archive.
func (s *ReportStore) SaveAuctionReport(auctionID string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `INSERT INTO auction_reports (auction_id, payload) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, auctionID, body); err != nil {
		return fmt.Errorf("failed to insert auction report: %w", err)
	}
	return nil
}

// SaveWinReport archives one win payload.
// Implements delivery.Archive.
func (s *ReportStore) SaveWinReport(auctionID, adUnitCode string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `INSERT INTO win_reports (auction_id, ad_unit_code, payload) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, auctionID, adUnitCode, body); err != nil {
		return fmt.Errorf("failed to insert win report: %w", err)
	}
	return nil
}

// ReportCounts holds row counts for monitoring
type ReportCounts struct {
	AuctionReports int64 `json:"auction_reports"`
	WinReports     int64 `json:"win_reports"`
}

// Counts returns the archived report totals
func (s *ReportStore) Counts(ctx context.Context) (*ReportCounts, error) {
	var c ReportCounts

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auction_reports`).Scan(&c.AuctionReports); err != nil {
		return nil, fmt.Errorf("failed to count auction reports: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM win_reports`).Scan(&c.WinReports); err != nil {
		return nil, fmt.Errorf("failed to count win reports: %w", err)
	}
	return &c, nil
}

// NewDBConnection creates a new database connection
func NewDBConnection(host, port, user, password, dbname, sslmode string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pool sized for the write-mostly archive workload
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
