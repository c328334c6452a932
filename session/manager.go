package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/core"
)

// TurnEventKind classifies what a turn event means to the user interface.
type TurnEventKind string

const (
	// TurnQuestion expects an answer in the next turn.
	TurnQuestion TurnEventKind = "question"
	// TurnStatus is transient progress while research runs.
	TurnStatus TurnEventKind = "status"
	// TurnReport carries the finished report.
	TurnReport TurnEventKind = "report"
	// TurnInfo is a message that needs no particular reply.
	TurnInfo TurnEventKind = "info"
	// TurnError reports a failure of the turn.
	TurnError TurnEventKind = "error"
)

// TurnEvent is one message streamed back to the user during a turn.
type TurnEvent struct {
	Kind   TurnEventKind `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Report *core.Report  `json:"report,omitempty"`
}

// Runner drives a research run and streams its progress.
type Runner interface {
	Run(ctx context.Context, topic string) <-chan core.ProgressEvent
}

// Archive persists finished runs. Implementations may be nil-checked away
// when no database is configured.
type Archive interface {
	SaveRun(ctx context.Context, result core.RunResult) error
}

// Manager owns the dialogue state machine. Each turn takes the user's
// message, advances the conversation, and streams back whatever the phase
// calls for: the next clarifying question, research progress, the report,
// or the email follow-up.
type Manager struct {
	config    *config.Config
	registry  Registry
	questions core.QuestionGenerator
	runner    Runner
	notifier  core.Notifier
	archive   Archive
	logger    *log.Logger
}

func NewManager(cfg *config.Config, registry Registry, questions core.QuestionGenerator, runner Runner, notifier core.Notifier, archive Archive) *Manager {
	return &Manager{
		config:    cfg,
		registry:  registry,
		questions: questions,
		runner:    runner,
		notifier:  notifier,
		archive:   archive,
		logger:    log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// HandleTurn processes one user message. The returned id identifies the
// conversation (generated when the caller passed ""); the channel streams
// the turn's events and is closed when the turn is over. Turns on the same
// conversation are serialized by the registry.
func (m *Manager) HandleTurn(ctx context.Context, conversationID, userText string) (string, <-chan TurnEvent, error) {
	conv, err := m.registry.Acquire(ctx, conversationID)
	if err != nil {
		return "", nil, fmt.Errorf("acquire conversation: %w", err)
	}

	events := make(chan TurnEvent, 16)
	go func() {
		defer close(events)
		defer func() {
			if err := m.registry.Release(ctx, conv); err != nil {
				m.logger.Printf("release conversation %s: %v", conv.ID, err)
			}
		}()
		m.turn(ctx, conv, strings.TrimSpace(userText), events)
	}()
	return conv.ID, events, nil
}

func (m *Manager) turn(ctx context.Context, conv *Conversation, text string, events chan<- TurnEvent) {
	if text == "" {
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Please enter a message."})
		return
	}

	switch conv.Phase {
	case PhaseNeedTopic:
		m.startTopic(ctx, conv, text, events)
	case PhaseCollectingAnswers:
		m.collectAnswer(ctx, conv, text, events)
	case PhaseAskEmailConsent:
		m.handleConsent(ctx, conv, text, events)
	case PhaseGetEmailAddress:
		m.handleAddress(ctx, conv, text, events)
	default:
		m.logger.Printf("conversation %s in unknown phase %q, resetting", conv.ID, conv.Phase)
		conv.Reset()
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Let's start over. What would you like me to research?"})
	}
}

func (m *Manager) startTopic(ctx context.Context, conv *Conversation, topic string, events chan<- TurnEvent) {
	conv.Topic = topic
	conv.LastReport = nil
	conv.EmailAddress = ""
	questions, err := m.questions.GenerateQuestions(ctx, topic)
	// The generator is an opaque port; renormalize at the boundary so the
	// dialogue never asks a blank or bullet-prefixed question.
	questions = core.NormalizeQuestionList(questions, m.config.Research.StrictQuestions)
	if err != nil || len(questions) == 0 {
		// Clarification is best-effort; research the topic as stated.
		if err != nil {
			m.logger.Printf("conversation %s: question generation failed: %v", conv.ID, err)
		}
		m.research(ctx, conv, events)
		return
	}

	conv.PendingQuestions = questions
	conv.Answers = nil
	conv.Phase = PhaseCollectingAnswers
	m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: fmt.Sprintf("Before I start, I have %d quick questions.", len(questions))})
	m.emit(ctx, events, TurnEvent{Kind: TurnQuestion, Text: conv.NextQuestion()})
}

func (m *Manager) collectAnswer(ctx context.Context, conv *Conversation, answer string, events chan<- TurnEvent) {
	conv.Answers = append(conv.Answers, answer)
	if q := conv.NextQuestion(); q != "" {
		m.emit(ctx, events, TurnEvent{Kind: TurnQuestion, Text: q})
		return
	}
	m.research(ctx, conv, events)
}

// clarifiedTopic folds the collected answers back into the research topic.
func (c *Conversation) clarifiedTopic() string {
	if len(c.Answers) == 0 {
		return c.Topic
	}
	var b strings.Builder
	b.WriteString(c.Topic)
	b.WriteString("\n\nCLARIFICATIONS:\n")
	for i, answer := range c.Answers {
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", c.PendingQuestions[i], answer)
	}
	return b.String()
}

func (m *Manager) research(ctx context.Context, conv *Conversation, events chan<- TurnEvent) {
	topic := conv.clarifiedTopic()
	m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: "Starting research..."})

	startTime := time.Now()
	var (
		report    *core.Report
		planned   int
		succeeded int
		failed    bool
	)
	for ev := range m.runner.Run(ctx, topic) {
		switch ev.Kind {
		case core.EventPlanningStarted:
			m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: "Planning searches..."})
		case core.EventPlanReady:
			planned = ev.Total
			m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: fmt.Sprintf("Planned %d searches.", ev.Total)})
		case core.EventSearchesStarted:
			m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: "Searching..."})
		case core.EventSearchCompleted:
			if ev.Err == "" {
				succeeded++
			}
			m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: fmt.Sprintf("Searching... %d/%d completed", ev.Completed, ev.Total)})
		case core.EventSearchesCompleted:
			m.emit(ctx, events, TurnEvent{Kind: TurnStatus, Text: "Writing report..."})
		case core.EventReportContent:
			report = ev.Report
			m.emit(ctx, events, TurnEvent{Kind: TurnReport, Text: ev.Report.MarkdownBody, Report: ev.Report})
		case core.EventFailed:
			failed = true
			m.emit(ctx, events, TurnEvent{Kind: TurnError, Text: "Research failed: " + ev.Err})
		}
	}

	if failed || report == nil {
		conv.Reset()
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Send a new topic to try again."})
		return
	}

	conv.LastReport = report
	if m.archive != nil {
		result := core.RunResult{
			ID:              uuid.NewString(),
			Topic:           topic,
			Report:          *report,
			SearchesPlanned: planned,
			SearchesUsed:    succeeded,
			ProcessingTime:  time.Since(startTime),
			CreatedAt:       time.Now(),
		}
		if err := m.archive.SaveRun(ctx, result); err != nil {
			m.logger.Printf("conversation %s: archiving run failed: %v", conv.ID, err)
		}
	}

	if m.notifier == nil {
		conv.Reset()
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Research complete. Send a new topic to start another."})
		return
	}
	conv.Phase = PhaseAskEmailConsent
	m.emit(ctx, events, TurnEvent{Kind: TurnQuestion, Text: "Would you like the report emailed to you? (yes/no)"})
}

func (m *Manager) handleConsent(ctx context.Context, conv *Conversation, text string, events chan<- TurnEvent) {
	if conv.LastReport == nil {
		conv.Reset()
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "There is no report to send. What would you like me to research?"})
		return
	}
	if isYes(text) {
		conv.Phase = PhaseGetEmailAddress
		m.emit(ctx, events, TurnEvent{Kind: TurnQuestion, Text: "What email address should I send it to?"})
		return
	}
	// Anything short of a yes is a decline. The report stays on the
	// conversation in case it is needed later.
	conv.Reset()
	m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Okay, I won't email it. Send a new topic to start another research."})
}

func (m *Manager) handleAddress(ctx context.Context, conv *Conversation, text string, events chan<- TurnEvent) {
	if conv.LastReport == nil {
		conv.Reset()
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "There is no report to send. What would you like me to research?"})
		return
	}
	address := text
	conv.EmailAddress = address
	err := m.notifier.Notify(ctx, *conv.LastReport, address)
	conv.Reset()
	if err != nil {
		m.emit(ctx, events, TurnEvent{Kind: TurnError, Text: fmt.Sprintf("Sending failed: %v", err)})
		m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: "Send a new topic to start another research."})
		return
	}
	m.emit(ctx, events, TurnEvent{Kind: TurnInfo, Text: fmt.Sprintf("Report sent to %s. Send a new topic to start another research.", address)})
}

func (m *Manager) emit(ctx context.Context, events chan<- TurnEvent, ev TurnEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func isYes(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true
	}
	return false
}
