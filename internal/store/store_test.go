package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/samjosdev/deepresearch/internal/agent/core"
)

func TestSaveRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	result := core.RunResult{
		ID:    "run-1",
		Topic: "solar adoption",
		Report: core.Report{
			Summary:      "brief",
			MarkdownBody: "# Findings",
			FollowUps:    []string{"costs?"},
		},
		SearchesPlanned: 5,
		SearchesUsed:    4,
		ProcessingTime:  90 * time.Second,
		CreatedAt:       time.Now(),
	}

	query := regexp.QuoteMeta(`
INSERT INTO research_runs (id, topic, summary, markdown_report, follow_ups, searches_planned, searches_used, processing_time_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	mock.ExpectExec(query).
		WithArgs("run-1", "solar adoption", "brief", "# Findings", sqlmock.AnyArg(), 5, 4, int64(90000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveRun(context.Background(), result); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListReports(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	query := regexp.QuoteMeta(`
SELECT id, topic, summary, searches_planned, searches_used, processing_time_ms, created_at
FROM research_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`)
	mock.ExpectQuery(query).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "summary", "searches_planned", "searches_used", "processing_time_ms", "created_at"}).
			AddRow("run-2", "batteries", "b", 5, 5, int64(60000), now).
			AddRow("run-1", "solar", "s", 5, 3, int64(90000), now.Add(-time.Hour)))

	// Out-of-range paging falls back to the defaults.
	reports, err := st.ListReports(context.Background(), 0, -3)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 2 || reports[0].ID != "run-2" {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[1].ProcessingTime != 90*time.Second {
		t.Fatalf("processing time = %v", reports[1].ProcessingTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	query := regexp.QuoteMeta(`
SELECT id, topic, summary, markdown_report, follow_ups, searches_planned, searches_used, processing_time_ms, created_at
FROM research_runs WHERE id=$1`)
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "summary", "markdown_report", "follow_ups", "searches_planned", "searches_used", "processing_time_ms", "created_at"}).
			AddRow("run-1", "solar", "s", "# Findings", pq.StringArray{"costs?"}, 5, 4, int64(90000), now))

	rec, ok, err := st.GetReport(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.MarkdownReport != "# Findings" || len(rec.FollowUps) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReportMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT").WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := st.GetReport(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if ok {
		t.Fatalf("expected no record")
	}
}
