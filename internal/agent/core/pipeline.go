package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("deepresearch/internal/agent/pipeline")

// Runner drives one research run end to end: plan the searches, fan them
// out, synthesize the report. Progress is streamed to the caller as events.
type Runner struct {
	config    *config.Config
	planner   SearchPlanner
	executor  SearchExecutor
	writer    ReportWriter
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewRunner(cfg *config.Config, planner SearchPlanner, executor SearchExecutor, writer ReportWriter, tele *telemetry.Telemetry) *Runner {
	return &Runner{
		config:    cfg,
		planner:   planner,
		executor:  executor,
		writer:    writer,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// Run executes a research run for the topic and returns the event stream.
// The channel is closed after the terminal event: EventDone on success
// (preceded by exactly one EventReportContent) or EventFailed if planning or
// synthesis fails. Failed searches never terminate a run; as long as the
// plan parsed, the report is written from whatever evidence survived.
func (r *Runner) Run(ctx context.Context, topic string) <-chan ProgressEvent {
	events := make(chan ProgressEvent, 16)
	go func() {
		defer close(events)
		r.run(ctx, topic, events)
	}()
	return events
}

func (r *Runner) run(ctx context.Context, topic string, events chan<- ProgressEvent) {
	runID := uuid.New().String()
	startTime := time.Now()
	ctx, span := pipelineTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
		))
	defer span.End()

	runEvent := telemetry.RunEvent{
		ID:        runID,
		Topic:     topic,
		StartTime: startTime,
	}
	defer func() {
		runEvent.EndTime = time.Now()
		runEvent.ProcessingTime = runEvent.EndTime.Sub(runEvent.StartTime)
		r.telemetry.RecordRunEvent(ctx, runEvent)
	}()

	fail := func(stage string, err error) {
		r.logger.Printf("run %s: %s failed: %v", runID, stage, err)
		runEvent.Success = false
		runEvent.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(ctx, events, ProgressEvent{Kind: EventFailed, Err: fmt.Sprintf("%s: %v", stage, err), At: time.Now()})
	}

	r.logger.Printf("run %s: starting research for topic (%d chars)", runID, len(topic))
	r.emit(ctx, events, ProgressEvent{Kind: EventPlanningStarted, At: time.Now()})

	planCtx, planSpan := pipelineTracer.Start(ctx, "research.plan")
	intents, err := r.planner.PlanSearches(planCtx, topic)
	if err != nil {
		planSpan.RecordError(err)
		planSpan.SetStatus(codes.Error, err.Error())
		planSpan.End()
		fail("planning", err)
		return
	}
	planSpan.SetAttributes(attribute.Int("plan.searches", len(intents)))
	planSpan.End()
	runEvent.SearchesPlanned = len(intents)
	r.logger.Printf("run %s: plan ready, %d searches", runID, len(intents))
	r.emit(ctx, events, ProgressEvent{Kind: EventPlanReady, Total: len(intents), At: time.Now()})

	searchCtx, searchSpan := pipelineTracer.Start(ctx, "research.search",
		trace.WithAttributes(attribute.Int("search.count", len(intents))))
	r.emit(ctx, events, ProgressEvent{Kind: EventSearchesStarted, Total: len(intents), At: time.Now()})
	coordinator := NewCoordinator(r.executor, r.config.Research.MaxConcurrentSearches)
	summaries := coordinator.Execute(searchCtx, intents, func(completed, total int, outcome SearchOutcome) {
		ev := ProgressEvent{Kind: EventSearchCompleted, Completed: completed, Total: total, At: time.Now()}
		if outcome.Err != nil {
			ev.Err = outcome.Err.Error()
		}
		r.emit(ctx, events, ev)
	})
	searchSpan.SetAttributes(attribute.Int("search.succeeded", len(summaries)))
	searchSpan.End()
	runEvent.SearchesUsed = len(summaries)
	r.logger.Printf("run %s: searches finished, %d/%d succeeded", runID, len(summaries), len(intents))
	r.emit(ctx, events, ProgressEvent{Kind: EventSearchesCompleted, Completed: len(intents), Total: len(intents), At: time.Now()})

	synthCtx, synthSpan := pipelineTracer.Start(ctx, "research.synthesize")
	report, err := r.writer.WriteReport(synthCtx, topic, summaries)
	if err != nil {
		synthSpan.RecordError(err)
		synthSpan.SetStatus(codes.Error, err.Error())
		synthSpan.End()
		fail("synthesis", err)
		return
	}
	synthSpan.End()

	runEvent.Success = true
	r.logger.Printf("run %s: report ready in %v", runID, time.Since(startTime))
	r.emit(ctx, events, ProgressEvent{Kind: EventReportReady, Report: &report, At: time.Now()})
	r.emit(ctx, events, ProgressEvent{Kind: EventReportContent, Report: &report, At: time.Now()})
	r.emit(ctx, events, ProgressEvent{Kind: EventDone, Report: &report, At: time.Now()})
}

// emit delivers an event unless the caller has gone away.
func (r *Runner) emit(ctx context.Context, events chan<- ProgressEvent, ev ProgressEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
