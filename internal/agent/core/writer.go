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

// WriterAgent synthesizes the collected search summaries into the final
// markdown report.
type WriterAgent struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewWriterAgent(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *WriterAgent {
	return &WriterAgent{
		config:    cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[WRITER] ", log.LstdFlags),
	}
}

// WriteReport produces the final report from the research summaries. With no
// summaries at all it still writes a report that states nothing was found,
// so a run where every search failed ends with a deliverable rather than a
// synthesis error.
func (a *WriterAgent) WriteReport(ctx context.Context, topic string, summaries []string) (Report, error) {
	evidence := "No research findings were collected. State clearly that no sources could be gathered and suggest how the query could be rephrased."
	if len(summaries) > 0 {
		var blocks []string
		for i, s := range summaries {
			blocks = append(blocks, fmt.Sprintf("--- Finding %d ---\n%s", i+1, s))
		}
		evidence = strings.Join(blocks, "\n\n")
	}

	prompt := fmt.Sprintf(`You are a senior researcher writing a cohesive report for a research query. Start with an outline, then generate the full report. The final output should be in markdown, lengthy and detailed (aim for 5-10 pages, at least 1000 words).

QUERY: %s

RESEARCH FINDINGS:
%s

Respond ONLY with a JSON object in this exact shape:
{
  "summary": "A short 2-3 sentence summary of the findings.",
  "markdown_body": "The full report in markdown.",
  "follow_up_questions": ["suggested topic to research further", "..."]
}`, topic, evidence)

	model := a.config.LLM.Routing.ModelFor("synthesis")
	start := time.Now()
	out, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.4,
	})
	if err != nil {
		return Report{}, fmt.Errorf("report synthesis: %w", err)
	}
	a.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Model:        model,
		Stage:        "synthesis",
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         a.llm.CalculateCost(inTok, outTok, model),
		Latency:      time.Since(start),
	})

	raw := extractJSONObject(out)
	if raw == "" {
		return Report{}, fmt.Errorf("report synthesis: no JSON found in response")
	}
	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return Report{}, fmt.Errorf("report synthesis: parsing response: %w", err)
	}
	report.Summary = strings.TrimSpace(report.Summary)
	report.MarkdownBody = strings.TrimSpace(report.MarkdownBody)
	if report.MarkdownBody == "" {
		return Report{}, fmt.Errorf("report synthesis: empty report body")
	}
	return report, nil
}
