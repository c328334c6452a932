package core

import (
	"context"
	"log"
	"sync"
)

// Coordinator fans search intents out to the executor and joins the results.
// Failed searches are dropped; the run degrades to whatever evidence the
// surviving searches produced.
type Coordinator struct {
	executor      SearchExecutor
	maxConcurrent int
	logger        *log.Logger
}

func NewCoordinator(executor SearchExecutor, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Coordinator{
		executor:      executor,
		maxConcurrent: maxConcurrent,
		logger:        log.New(log.Writer(), "[FANOUT] ", log.LstdFlags),
	}
}

// Execute runs every intent concurrently, bounded by the configured
// parallelism, and returns the summaries of the searches that succeeded in
// the order they completed. onResolved, when non-nil, is called once per
// intent as it resolves, with the count of resolved intents so far.
func (c *Coordinator) Execute(ctx context.Context, intents []SearchIntent, onResolved func(completed, total int, outcome SearchOutcome)) []string {
	if len(intents) == 0 {
		return nil
	}

	outcomes := make(chan SearchOutcome, len(intents))
	sem := make(chan struct{}, c.maxConcurrent)

	var wg sync.WaitGroup
	for _, intent := range intents {
		wg.Add(1)
		go func(intent SearchIntent) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes <- SearchOutcome{Intent: intent, Err: ctx.Err()}
				return
			}
			summary, err := c.executor.ExecuteSearch(ctx, intent)
			outcomes <- SearchOutcome{Intent: intent, Summary: summary, Err: err}
		}(intent)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var summaries []string
	completed := 0
	for outcome := range outcomes {
		completed++
		if outcome.Err != nil {
			c.logger.Printf("search %q failed: %v", outcome.Intent.Query, outcome.Err)
		} else {
			summaries = append(summaries, outcome.Summary)
		}
		if onResolved != nil {
			onResolved(completed, len(intents), outcome)
		}
	}
	return summaries
}
