package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
	"github.com/samjosdev/deepresearch/tools/web_fetch"
	"github.com/samjosdev/deepresearch/tools/web_search"
)

// SearchAgent executes one search intent: discover results on the web,
// optionally render and extract the top pages, then summarize the evidence
// with the research model.
type SearchAgent struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	searcher  web_search.WebSearcher
	fetcher   web_fetch.WebFetcher
	logger    *log.Logger
}

// NewSearchAgent wires a search executor from configuration. The fetcher is
// nil when page rendering is disabled; snippets alone are summarized then.
func NewSearchAgent(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) (*SearchAgent, error) {
	provider := web_search.Provider(cfg.Sources.WebSearch.Provider)
	apiKey := cfg.Sources.WebSearch.SerperAPIKey
	if provider == web_search.BraveProvider {
		apiKey = cfg.Sources.WebSearch.BraveAPIKey
	}
	searcher, err := web_search.NewWebSearcher(provider, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create web searcher: %w", err)
	}

	var fetcher web_fetch.WebFetcher
	if cfg.Research.FetchPages {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, cfg.Research.FetchTimeout, cfg.Research.FetchMaxChars)
		if err != nil {
			return nil, fmt.Errorf("failed to create web fetcher: %w", err)
		}
	}

	return &SearchAgent{
		config:    cfg,
		llm:       llm,
		telemetry: tele,
		searcher:  searcher,
		fetcher:   fetcher,
		logger:    log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}, nil
}

// ExecuteSearch resolves one intent into a textual summary. Any failure is
// returned as an error; the fan-out coordinator owns the drop policy.
func (a *SearchAgent) ExecuteSearch(ctx context.Context, intent SearchIntent) (string, error) {
	start := time.Now()
	summary, err := a.executeSearch(ctx, intent)
	a.telemetry.RecordSearchEvent(ctx, telemetry.SearchEvent{
		Query:    intent.Query,
		Duration: time.Since(start),
		Success:  err == nil,
	})
	return summary, err
}

func (a *SearchAgent) executeSearch(ctx context.Context, intent SearchIntent) (string, error) {
	maxResults := a.config.Sources.WebSearch.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	results, err := a.searcher.Discover(ctx, intent.Query, maxResults, nil, 0)
	if err != nil {
		return "", fmt.Errorf("web search %q: %w", intent.Query, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("web search %q returned no results", intent.Query)
	}

	var evidence []string
	for _, r := range results {
		block := fmt.Sprintf("Title: %s\nURL: %s\nSnippet: %s", r.Title, r.URL, r.Snippet)
		evidence = append(evidence, block)
	}

	// Render the top hit for full article text when enabled; a fetch failure
	// just leaves us with snippets.
	if a.fetcher != nil {
		if page, err := a.fetcher.Exec(ctx, results[0].URL); err == nil && page.Text != "" {
			evidence = append(evidence, fmt.Sprintf("Full text of %s:\n%s", page.URL, page.Text))
		}
	}

	prompt := fmt.Sprintf(`You are a research assistant. Given a search term and raw web results, produce a concise summary of the findings in 2-3 paragraphs, under 300 words. Capture the main points; ignore fluff. This will be consumed by someone synthesizing a report, so write succinctly without complete sentences or good grammar where brevity helps.

SEARCH TERM: %s
REASON FOR THE SEARCH: %s

WEB RESULTS:
%s

Respond with the summary only.`, intent.Query, intent.Reason, strings.Join(evidence, "\n\n"))

	model := a.config.LLM.Routing.ModelFor("research")
	start := time.Now()
	out, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  500,
	})
	if err != nil {
		return "", fmt.Errorf("summarize %q: %w", intent.Query, err)
	}
	a.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Model:        model,
		Stage:        "research",
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         a.llm.CalculateCost(inTok, outTok, model),
		Latency:      time.Since(start),
	})

	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", fmt.Errorf("summarize %q: empty summary", intent.Query)
	}
	return summary, nil
}
