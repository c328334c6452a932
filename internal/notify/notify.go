// Package notify delivers finished research reports by email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/core"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
)

// SendGridNotifier sends the report through the SendGrid v3 mail API.
type SendGridNotifier struct {
	config    config.EmailConfig
	telemetry *telemetry.Telemetry
	client    *http.Client
	logger    *log.Logger
}

func NewSendGridNotifier(cfg config.EmailConfig, tele *telemetry.Telemetry) *SendGridNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SendGridNotifier{
		config:    cfg,
		telemetry: tele,
		client:    &http.Client{Timeout: timeout},
		logger:    log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailRequest struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From    mailAddress `json:"from"`
	Subject string      `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// Notify emails the report to the address. Delivery failure is reported to
// the caller; it never invalidates the report itself.
func (n *SendGridNotifier) Notify(ctx context.Context, report core.Report, address string) error {
	err := n.send(ctx, report, address)
	n.telemetry.RecordNotifyEvent(err == nil)
	if err != nil {
		n.logger.Printf("delivery to %s failed: %v", address, err)
		return err
	}
	n.logger.Printf("report delivered to %s", address)
	return nil
}

func (n *SendGridNotifier) send(ctx context.Context, report core.Report, address string) error {
	if n.config.APIKey == "" {
		return fmt.Errorf("email api key is not configured")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("empty recipient address")
	}

	var req mailRequest
	req.Personalizations = make([]struct {
		To []mailAddress `json:"to"`
	}, 1)
	req.Personalizations[0].To = []mailAddress{{Email: address}}
	req.From = mailAddress{Email: n.config.FromAddress, Name: n.config.FromName}
	req.Subject = subjectFor(report)
	req.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/plain", Value: report.MarkdownBody}}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	endpoint := n.config.Endpoint
	if endpoint == "" {
		endpoint = "https://api.sendgrid.com/v3/mail/send"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+n.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// subjectFor derives the mail subject from the report summary, falling back
// to a generic subject when the summary is blank or unusable.
func subjectFor(report core.Report) string {
	s := strings.TrimSpace(report.Summary)
	if idx := strings.IndexAny(s, ".\n"); idx > 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "Your research report"
	}
	if runes := []rune(s); len(runes) > 120 {
		s = string(runes[:120])
	}
	return "Research report: " + s
}
