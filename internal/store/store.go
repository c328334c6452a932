// Package store persists users and finished research runs in Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/samjosdev/deepresearch/internal/agent/core"
)

type Store struct {
	DB *sql.DB
}

// New constructs the Store from DATABASE_URL or the POSTGRES_* environment.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// ReportRecord is one archived research run.
type ReportRecord struct {
	ID              string
	Topic           string
	Summary         string
	MarkdownReport  string
	FollowUps       []string
	SearchesPlanned int
	SearchesUsed    int
	ProcessingTime  time.Duration
	CreatedAt       time.Time
}

// SaveRun archives a finished run together with its report.
func (s *Store) SaveRun(ctx context.Context, result core.RunResult) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO research_runs (id, topic, summary, markdown_report, follow_ups, searches_planned, searches_used, processing_time_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		result.ID,
		result.Topic,
		result.Report.Summary,
		result.Report.MarkdownBody,
		pq.Array(result.Report.FollowUps),
		result.SearchesPlanned,
		result.SearchesUsed,
		result.ProcessingTime.Milliseconds(),
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListReports returns archived reports, newest first. The markdown body is
// omitted; fetch a single report for the full text.
func (s *Store) ListReports(ctx context.Context, limit, offset int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, topic, summary, searches_planned, searches_used, processing_time_ms, created_at
FROM research_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReportRecord
	for rows.Next() {
		var r ReportRecord
		var processingMS int64
		if err := rows.Scan(&r.ID, &r.Topic, &r.Summary, &r.SearchesPlanned, &r.SearchesUsed, &processingMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ProcessingTime = time.Duration(processingMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReport returns one archived report by id; the bool reports existence.
func (s *Store) GetReport(ctx context.Context, id string) (ReportRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, topic, summary, markdown_report, follow_ups, searches_planned, searches_used, processing_time_ms, created_at
FROM research_runs WHERE id=$1`, id)
	var r ReportRecord
	var processingMS int64
	err := row.Scan(&r.ID, &r.Topic, &r.Summary, &r.MarkdownReport, pq.Array(&r.FollowUps), &r.SearchesPlanned, &r.SearchesUsed, &processingMS, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return ReportRecord{}, false, nil
	}
	if err != nil {
		return ReportRecord{}, false, err
	}
	r.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	return r, true, nil
}
