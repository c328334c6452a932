package core

import "context"

// The capability ports below are the only seams between the orchestration
// core and the intelligence-bearing collaborators. Every implementation may
// fail or time out; the caller owns the failure policy.

// QuestionGenerator proposes clarifying questions for a raw topic.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, topic string) ([]string, error)
}

// SearchPlanner turns a clarified topic into a bounded list of search intents.
type SearchPlanner interface {
	PlanSearches(ctx context.Context, topic string) ([]SearchIntent, error)
}

// SearchExecutor runs one search intent and returns a textual summary.
type SearchExecutor interface {
	ExecuteSearch(ctx context.Context, intent SearchIntent) (string, error)
}

// ReportWriter synthesizes the final report from the topic and whatever
// evidence the search stage produced. An empty summaries slice is a valid
// input; the writer is expected to note the lack of findings.
type ReportWriter interface {
	WriteReport(ctx context.Context, topic string, summaries []string) (Report, error)
}

// Notifier delivers a finished report to a destination address.
type Notifier interface {
	Notify(ctx context.Context, report Report, address string) error
}
