package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/core"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false})
}

func TestNotifySendsMail(t *testing.T) {
	var captured []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewSendGridNotifier(config.EmailConfig{
		APIKey:      "sg-test-key",
		Endpoint:    srv.URL,
		FromAddress: "reports@example.com",
		FromName:    "Research Agent",
	}, testTelemetry())

	report := core.Report{Summary: "Main finding. More detail.", MarkdownBody: "# Report\n\nBody."}
	if err := notifier.Notify(context.Background(), report, "user@example.com"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if auth != "Bearer sg-test-key" {
		t.Fatalf("authorization header = %q", auth)
	}

	var payload struct {
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Subject string `json:"subject"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Personalizations[0].To[0].Email != "user@example.com" {
		t.Fatalf("recipient = %#v", payload.Personalizations)
	}
	if payload.From.Email != "reports@example.com" {
		t.Fatalf("from = %q", payload.From.Email)
	}
	if payload.Subject != "Research report: Main finding" {
		t.Fatalf("subject = %q", payload.Subject)
	}
	if len(payload.Content) != 1 || !strings.Contains(payload.Content[0].Value, "# Report") {
		t.Fatalf("content = %#v", payload.Content)
	}
}

func TestNotifyReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	notifier := NewSendGridNotifier(config.EmailConfig{
		APIKey:      "wrong",
		Endpoint:    srv.URL,
		FromAddress: "reports@example.com",
	}, testTelemetry())

	err := notifier.Notify(context.Background(), core.Report{MarkdownBody: "x"}, "user@example.com")
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("error should carry status: %v", err)
	}
}

func TestNotifyRequiresConfiguration(t *testing.T) {
	notifier := NewSendGridNotifier(config.EmailConfig{}, testTelemetry())
	if err := notifier.Notify(context.Background(), core.Report{MarkdownBody: "x"}, "user@example.com"); err == nil {
		t.Fatal("expected error without api key")
	}

	notifier = NewSendGridNotifier(config.EmailConfig{APIKey: "k"}, testTelemetry())
	if err := notifier.Notify(context.Background(), core.Report{MarkdownBody: "x"}, "   "); err == nil {
		t.Fatal("expected error for blank recipient")
	}
}

func TestSubjectFor(t *testing.T) {
	cases := []struct {
		summary string
		want    string
	}{
		{"Main finding. Extra.", "Research report: Main finding"},
		{"", "Your research report"},
		{"One line\nSecond line", "Research report: One line"},
		{strings.Repeat("é", 130), "Research report: " + strings.Repeat("é", 120)},
	}
	for _, tc := range cases {
		if got := subjectFor(core.Report{Summary: tc.summary}); got != tc.want {
			t.Fatalf("subjectFor(%q) = %q, want %q", tc.summary, got, tc.want)
		}
	}
}
