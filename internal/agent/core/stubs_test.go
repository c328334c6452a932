package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

// stubLLM returns canned responses keyed by call order.
type stubLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *stubLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (s *stubLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", 0, 0, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return "", 0, 0, fmt.Errorf("stub: no response for call %d", idx)
	}
	return s.responses[idx], 10, 20, nil
}

func (s *stubLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

type stubPlanner struct {
	intents []SearchIntent
	err     error
}

func (s *stubPlanner) PlanSearches(ctx context.Context, topic string) ([]SearchIntent, error) {
	return s.intents, s.err
}

// stubExecutor fails queries listed in failing, succeeds otherwise.
type stubExecutor struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
}

func (s *stubExecutor) ExecuteSearch(ctx context.Context, intent SearchIntent) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, intent.Query)
	s.mu.Unlock()
	if s.failing[intent.Query] {
		return "", fmt.Errorf("search %q unavailable", intent.Query)
	}
	return "summary of " + intent.Query, nil
}

type stubWriter struct {
	report    Report
	err       error
	summaries []string
}

func (s *stubWriter) WriteReport(ctx context.Context, topic string, summaries []string) (Report, error) {
	s.summaries = summaries
	return s.report, s.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Research = cfg.Research.Normalize()
	cfg.Research.MaxSearches = 3
	cfg.Research.MaxConcurrentSearches = 2
	cfg.LLM.Routing.Fallback = "gpt-4o-mini"
	return cfg
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false})
}
