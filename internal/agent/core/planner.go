package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

// Planner decides which web searches will best answer a clarified topic.
type Planner struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *Planner {
	return &Planner{
		config:    cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// PlanSearches creates a bounded search plan for the topic. A planner failure
// is fatal to the run; there is no fallback plan.
func (p *Planner) PlanSearches(ctx context.Context, topic string) ([]SearchIntent, error) {
	maxSearches := p.config.Research.MaxSearches
	prompt := p.createPlanningPrompt(topic, maxSearches)

	model := p.config.LLM.Routing.ModelFor("planning")
	start := time.Now()
	response, inTok, outTok, err := p.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3, // lower temperature for more consistent planning
		"max_tokens":  1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate search plan: %w", err)
	}
	p.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Model:        model,
		Stage:        "planning",
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         p.llm.CalculateCost(inTok, outTok, model),
		Latency:      time.Since(start),
	})

	intents, err := p.parsePlanningResponse(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse planning response: %w", err)
	}
	if len(intents) > maxSearches {
		intents = intents[:maxSearches]
	}
	p.logger.Printf("planned %d searches in %v", len(intents), time.Since(start))
	return intents, nil
}

func (p *Planner) createPlanningPrompt(topic string, maxSearches int) string {
	return fmt.Sprintf(`You are a research assistant. Given a research query, come up with a set of web searches to perform to best answer the query. Output at most %d search terms.

RESEARCH QUERY: %s

OUTPUT FORMAT (JSON):
{
  "searches": [
    {
      "query": "the search query to perform",
      "reason": "why this search is important to the query"
    }
  ]
}

Respond ONLY with valid JSON in the format above. Do not include any other text or explanation.`, maxSearches, topic)
}

// parsePlanningResponse extracts the search list from the LLM reply.
func (p *Planner) parsePlanningResponse(response string) ([]SearchIntent, error) {
	jsonStr := extractJSONObject(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var rawPlan struct {
		Searches []struct {
			Query  string `json:"query"`
			Reason string `json:"reason"`
		} `json:"searches"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &rawPlan); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var intents []SearchIntent
	for _, s := range rawPlan.Searches {
		query := strings.TrimSpace(s.Query)
		if query == "" {
			continue
		}
		intents = append(intents, SearchIntent{Query: query, Reason: strings.TrimSpace(s.Reason)})
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("plan contains no searches")
	}
	return intents, nil
}

// extractJSONObject finds the first balanced JSON object in a string.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
