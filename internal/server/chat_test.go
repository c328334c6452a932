package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/core"
	"github.com/samjosdev/deepresearch/session"
	"github.com/samjosdev/deepresearch/session/inmemory"
)

type fixedQuestions struct{ questions []string }

func (f *fixedQuestions) GenerateQuestions(ctx context.Context, topic string) ([]string, error) {
	return f.questions, nil
}

type fixedRunner struct{ report *core.Report }

func (f *fixedRunner) Run(ctx context.Context, topic string) <-chan core.ProgressEvent {
	events := make(chan core.ProgressEvent, 8)
	go func() {
		defer close(events)
		events <- core.ProgressEvent{Kind: core.EventPlanningStarted}
		events <- core.ProgressEvent{Kind: core.EventPlanReady, Total: 1}
		events <- core.ProgressEvent{Kind: core.EventSearchesStarted, Total: 1}
		events <- core.ProgressEvent{Kind: core.EventSearchCompleted, Completed: 1, Total: 1}
		events <- core.ProgressEvent{Kind: core.EventSearchesCompleted, Completed: 1, Total: 1}
		events <- core.ProgressEvent{Kind: core.EventReportReady, Report: f.report}
		events <- core.ProgressEvent{Kind: core.EventReportContent, Report: f.report}
		events <- core.ProgressEvent{Kind: core.EventDone, Report: f.report}
	}()
	return events
}

func newChatHandler(t *testing.T, questions []string) *ChatHandler {
	t.Helper()
	registry := inmemory.NewRegistry(0, 0)
	t.Cleanup(func() { _ = registry.Close() })
	manager := session.NewManager(&config.Config{}, registry,
		&fixedQuestions{questions: questions},
		&fixedRunner{report: &core.Report{Summary: "brief", MarkdownBody: "# Findings"}},
		nil, nil)
	return &ChatHandler{Manager: manager}
}

func TestChatTurnStreamsEvents(t *testing.T) {
	e := echo.New()
	handler := newChatHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"solar adoption"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.turn(ctx); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("X-Conversation-ID") == "" {
		t.Fatal("expected conversation id header")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Fatalf("expected status events in stream: %q", body)
	}
	if !strings.Contains(body, "event: report") || !strings.Contains(body, "# Findings") {
		t.Fatalf("expected report event in stream: %q", body)
	}
}

func TestChatTurnAsksQuestions(t *testing.T) {
	e := echo.New()
	handler := newChatHandler(t, []string{"Which region?"})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"solar adoption"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.turn(ctx); err != nil {
		t.Fatalf("turn: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: question") || !strings.Contains(body, "Which region?") {
		t.Fatalf("expected clarifying question in stream: %q", body)
	}

	// Second turn continues the same conversation.
	id := rec.Header().Get("X-Conversation-ID")
	req = httptest.NewRequest(http.MethodPost, "/api/chat/"+id, strings.NewReader(`{"message":"Europe"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	ctx = e.NewContext(req, rec)
	ctx.SetParamNames("conversation_id")
	ctx.SetParamValues(id)

	if err := handler.turn(ctx); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if body := rec.Body.String(); !strings.Contains(body, "event: report") {
		t.Fatalf("expected research after answer: %q", body)
	}
}

func TestChatRegisterAuthModes(t *testing.T) {
	body := `{"message":"solar adoption"}`

	// Without a secret (no account store) the chat endpoint is open.
	e := echo.New()
	handler := newChatHandler(t, nil)
	handler.Register(e.Group("/api/chat"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open chat: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// With a secret an unauthenticated request is rejected.
	e = echo.New()
	handler = newChatHandler(t, nil)
	handler.Register(e.Group("/api/chat"), []byte("test-secret"))
	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("authed chat: expected 401, got %d", rec.Code)
	}
}

func TestChatTurnRequiresMessage(t *testing.T) {
	e := echo.New()
	handler := newChatHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := handler.turn(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
