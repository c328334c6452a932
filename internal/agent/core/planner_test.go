package core

import (
	"context"
	"strings"
	"testing"
)

func TestPlanSearchesParsesJSON(t *testing.T) {
	llm := &stubLLM{responses: []string{`Sure, here is the plan:
{"searches": [
  {"query": "go concurrency patterns", "reason": "core topic"},
  {"query": "", "reason": "should be dropped"},
  {"query": "go channels tutorial", "reason": "background"}
]}`}}
	planner := NewPlanner(testConfig(), llm, testTelemetry())

	intents, err := planner.PlanSearches(context.Background(), "go concurrency")
	if err != nil {
		t.Fatalf("PlanSearches: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d: %#v", len(intents), intents)
	}
	if intents[0].Query != "go concurrency patterns" || intents[0].Reason != "core topic" {
		t.Fatalf("unexpected first intent: %#v", intents[0])
	}
}

func TestPlanSearchesTruncatesToMax(t *testing.T) {
	llm := &stubLLM{responses: []string{`{"searches": [
  {"query": "a", "reason": ""}, {"query": "b", "reason": ""},
  {"query": "c", "reason": ""}, {"query": "d", "reason": ""},
  {"query": "e", "reason": ""}]}`}}
	cfg := testConfig()
	cfg.Research.MaxSearches = 3
	planner := NewPlanner(cfg, llm, testTelemetry())

	intents, err := planner.PlanSearches(context.Background(), "topic")
	if err != nil {
		t.Fatalf("PlanSearches: %v", err)
	}
	if len(intents) != 3 {
		t.Fatalf("expected plan truncated to 3, got %d", len(intents))
	}
}

func TestPlanSearchesRejectsGarbage(t *testing.T) {
	for _, response := range []string{
		"I could not produce a plan.",
		`{"searches": []}`,
		`{"searches": [{"query": "   ", "reason": "blank"}]}`,
	} {
		llm := &stubLLM{responses: []string{response}}
		planner := NewPlanner(testConfig(), llm, testTelemetry())
		if _, err := planner.PlanSearches(context.Background(), "topic"); err == nil {
			t.Fatalf("expected error for response %q", response)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{`prefix {"a": {"b": 2}} suffix`, `{"a": {"b": 2}}`},
		{`no json here`, ``},
		{`{"unbalanced": `, ``},
	}
	for _, tc := range cases {
		if got := extractJSONObject(tc.in); got != tc.want {
			t.Fatalf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPlannerPromptMentionsLimit(t *testing.T) {
	llm := &stubLLM{responses: []string{`{"searches": [{"query": "q", "reason": "r"}]}`}}
	cfg := testConfig()
	cfg.Research.MaxSearches = 7
	planner := NewPlanner(cfg, llm, testTelemetry())

	if _, err := planner.PlanSearches(context.Background(), "topic"); err != nil {
		t.Fatalf("PlanSearches: %v", err)
	}
	if !strings.Contains(llm.prompts[0], "at most 7") {
		t.Fatalf("prompt does not carry the search limit: %q", llm.prompts[0])
	}
}
