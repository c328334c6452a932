package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

// QuestionAgent asks the LLM for clarifying questions about a topic.
type QuestionAgent struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewQuestionAgent creates a question generator backed by the LLM provider.
func NewQuestionAgent(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *QuestionAgent {
	return &QuestionAgent{
		config:    cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[QUESTIONS] ", log.LstdFlags),
	}
}

// GenerateQuestions returns clarifying questions for the topic, one per line,
// already normalized.
func (a *QuestionAgent) GenerateQuestions(ctx context.Context, topic string) ([]string, error) {
	prompt := fmt.Sprintf(`Given a research topic, return ONLY 2 clarifying followup questions, one per line, to help refine the research. Do NOT include any introduction, explanation, or preamble. Only output the questions.

TOPIC: %s`, topic)

	model := a.config.LLM.Routing.ModelFor("questions")
	start := time.Now()
	out, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.4,
		"max_tokens":  300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}
	a.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Model:        model,
		Stage:        "questions",
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         a.llm.CalculateCost(inTok, outTok, model),
		Latency:      time.Since(start),
	})

	questions := NormalizeQuestions(out, a.config.Research.StrictQuestions)
	a.logger.Printf("generated %d clarifying questions for topic", len(questions))
	return questions, nil
}

// NormalizeQuestions turns raw question-generator output into a clean list.
// The contract is total: multi-line text is split on line breaks, each line
// stripped of leading bullet characters and surrounding whitespace, blank
// lines discarded. With strict set, only lines ending in "?" survive.
func NormalizeQuestions(raw string, strict bool) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*•")
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if strict && !strings.HasSuffix(q, "?") {
			continue
		}
		out = append(out, q)
	}
	return out
}

// NormalizeQuestionList applies the same trim/filter contract to an
// already-split list. For well-formed input this is a no-op.
func NormalizeQuestionList(raw []string, strict bool) []string {
	var out []string
	for _, line := range raw {
		out = append(out, NormalizeQuestions(line, strict)...)
	}
	return out
}
