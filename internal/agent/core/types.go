package core

import "time"

// SearchIntent is a single planned web search: what to ask and why.
type SearchIntent struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// SearchOutcome is the result of running one SearchIntent. Failures never
// cross the fan-out boundary as panics or aborts; they travel as values and
// are dropped from aggregation.
type SearchOutcome struct {
	Intent  SearchIntent
	Summary string
	Err     error
}

// Succeeded reports whether the outcome carries a usable summary.
func (o SearchOutcome) Succeeded() bool { return o.Err == nil }

// Report is the final research artifact. Once produced it is immutable and
// safely shared between the session and the notifier.
type Report struct {
	Summary      string   `json:"summary"`
	MarkdownBody string   `json:"markdown_body"`
	FollowUps    []string `json:"follow_up_questions,omitempty"`
}

// EventKind identifies a pipeline progress milestone.
type EventKind string

const (
	EventPlanningStarted   EventKind = "planning_started"
	EventPlanReady         EventKind = "plan_ready"
	EventSearchesStarted   EventKind = "searches_started"
	EventSearchCompleted   EventKind = "search_completed" // once per resolved intent, completion order
	EventSearchesCompleted EventKind = "searches_completed"
	EventReportReady       EventKind = "report_ready"
	EventReportContent     EventKind = "report_content" // terminal content event, exactly once
	EventDone              EventKind = "done"
	EventFailed            EventKind = "failed"
)

// ProgressEvent is one step of a pipeline run's progress stream. Events are
// emitted in a fixed order except EventSearchCompleted, which arrives once
// per resolved intent in whatever order searches finish.
type ProgressEvent struct {
	Kind      EventKind
	Completed int
	Total     int
	Report    *Report
	Err       string
	At        time.Time
}

// RunResult summarizes a completed pipeline run for persistence and telemetry.
type RunResult struct {
	ID              string
	Topic           string
	Report          Report
	SearchesPlanned int
	SearchesUsed    int
	ProcessingTime  time.Duration
	CreatedAt       time.Time
}
