package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samjosdev/deepresearch/config"
)

// Telemetry provides monitoring and cost tracking for research runs.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	stop        chan struct{}
	mu          sync.RWMutex
}

// Metrics holds aggregate performance metrics
type Metrics struct {
	mu sync.RWMutex

	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Search metrics
	SearchesDispatched int64
	SearchesSucceeded  int64
	SearchesFailed     int64

	// LLM metrics
	LLMRequests       map[string]int64
	LLMTokensUsed     map[string]int64
	LLMAverageLatency map[string]time.Duration

	// Delivery metrics
	NotifyAttempts  int64
	NotifySucceeded int64
}

// CostTracker tracks LLM spend across models and pipeline stages
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts map[string]float64 // model -> cost
	StageCosts map[string]float64 // stage -> cost

	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents a single completed (or failed) pipeline run
type RunEvent struct {
	ID              string
	Topic           string
	StartTime       time.Time
	EndTime         time.Time
	ProcessingTime  time.Duration
	Success         bool
	Error           string
	SearchesPlanned int
	SearchesUsed    int
}

// LLMEvent represents one LLM call
type LLMEvent struct {
	Model        string
	Stage        string // questions, planning, research, synthesis
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Latency      time.Duration
}

// SearchEvent represents one search intent resolution
type SearchEvent struct {
	Query    string
	Duration time.Duration
	Success  bool
}

var (
	promOnce sync.Once

	runsTotal      *prometheus.CounterVec
	searchesTotal  *prometheus.CounterVec
	notifiesTotal  *prometheus.CounterVec
	llmTokensTotal *prometheus.CounterVec
	llmCostTotal   prometheus.Counter
	runDuration    prometheus.Histogram
)

func initPromMetrics() {
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_runs_total",
		Help: "Research pipeline runs by outcome",
	}, []string{"outcome"})
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_searches_total",
		Help: "Search intents resolved by outcome",
	}, []string{"outcome"})
	notifiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_notify_total",
		Help: "Report delivery attempts by outcome",
	}, []string{"outcome"})
	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_llm_tokens_total",
		Help: "LLM tokens consumed per model",
	}, []string{"model", "direction"})
	llmCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepresearch_llm_cost_usd_total",
		Help: "Accumulated LLM spend in USD",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepresearch_run_duration_seconds",
		Help:    "Wall time of research pipeline runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	promOnce.Do(initPromMetrics)
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			LLMRequests:       make(map[string]int64),
			LLMTokensUsed:     make(map[string]int64),
			LLMAverageLatency: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
			StageCosts: make(map[string]float64),
		},
		stop: make(chan struct{}),
	}
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.periodicLog()
	}
	return t
}

// RecordRunEvent records the outcome of a pipeline run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}
	// running average over all runs
	n := t.metrics.TotalRuns
	t.metrics.AverageRunTime = time.Duration((int64(t.metrics.AverageRunTime)*(n-1) + int64(event.ProcessingTime)) / n)
	t.metrics.mu.Unlock()

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(event.ProcessingTime.Seconds())

	if !event.Success && event.Error != "" {
		t.logger.Printf("run %s failed after %v: %s", event.ID, event.ProcessingTime, event.Error)
	}
}

// RecordLLMEvent records token usage and cost for one LLM call
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if !t.config.Enabled {
		return
	}
	tokens := event.InputTokens + event.OutputTokens

	t.metrics.mu.Lock()
	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += tokens
	prev := t.metrics.LLMAverageLatency[event.Model]
	n := t.metrics.LLMRequests[event.Model]
	t.metrics.LLMAverageLatency[event.Model] = time.Duration((int64(prev)*(n-1) + int64(event.Latency)) / n)
	t.metrics.mu.Unlock()

	llmTokensTotal.WithLabelValues(event.Model, "input").Add(float64(event.InputTokens))
	llmTokensTotal.WithLabelValues(event.Model, "output").Add(float64(event.OutputTokens))

	if t.config.CostTracking {
		t.costTracker.mu.Lock()
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.StageCosts[event.Stage] += event.Cost
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += tokens
		t.costTracker.mu.Unlock()
		llmCostTotal.Add(event.Cost)
	}
}

// RecordSearchEvent records a resolved search intent
func (t *Telemetry) RecordSearchEvent(ctx context.Context, event SearchEvent) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.SearchesDispatched++
	if event.Success {
		t.metrics.SearchesSucceeded++
	} else {
		t.metrics.SearchesFailed++
	}
	t.metrics.mu.Unlock()

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	searchesTotal.WithLabelValues(outcome).Inc()
}

// RecordNotifyEvent records a report delivery attempt
func (t *Telemetry) RecordNotifyEvent(success bool) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.NotifyAttempts++
	if success {
		t.metrics.NotifySucceeded++
	}
	t.metrics.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	notifiesTotal.WithLabelValues(outcome).Inc()
}

// TotalCost returns the accumulated LLM spend.
func (t *Telemetry) TotalCost() float64 {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalCost
}

// Snapshot returns a point-in-time copy of the aggregate metrics.
func (t *Telemetry) Snapshot() Metrics {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()
	snap := Metrics{
		TotalRuns:          t.metrics.TotalRuns,
		SuccessfulRuns:     t.metrics.SuccessfulRuns,
		FailedRuns:         t.metrics.FailedRuns,
		AverageRunTime:     t.metrics.AverageRunTime,
		SearchesDispatched: t.metrics.SearchesDispatched,
		SearchesSucceeded:  t.metrics.SearchesSucceeded,
		SearchesFailed:     t.metrics.SearchesFailed,
		NotifyAttempts:     t.metrics.NotifyAttempts,
		NotifySucceeded:    t.metrics.NotifySucceeded,
		LLMRequests:        make(map[string]int64, len(t.metrics.LLMRequests)),
		LLMTokensUsed:      make(map[string]int64, len(t.metrics.LLMTokensUsed)),
		LLMAverageLatency:  make(map[string]time.Duration, len(t.metrics.LLMAverageLatency)),
	}
	for k, v := range t.metrics.LLMRequests {
		snap.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		snap.LLMTokensUsed[k] = v
	}
	for k, v := range t.metrics.LLMAverageLatency {
		snap.LLMAverageLatency[k] = v
	}
	return snap
}

func (t *Telemetry) periodicLog() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			snap := t.Snapshot()
			t.logger.Printf("runs=%d ok=%d failed=%d searches=%d/%d cost=$%.4f",
				snap.TotalRuns, snap.SuccessfulRuns, snap.FailedRuns,
				snap.SearchesSucceeded, snap.SearchesDispatched, t.TotalCost())
		}
	}
}

// Shutdown stops background telemetry work.
func (t *Telemetry) Shutdown() {
	close(t.stop)
}
