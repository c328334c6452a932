// Package session tracks the conversational state of a research dialogue:
// which phase the conversation is in, which clarifying questions are still
// open, and the last report produced for it.
package session

import (
	"context"
	"time"

	"github.com/samjosdev/deepresearch/internal/agent/core"
)

// Phase is the position of a conversation in the research dialogue.
type Phase string

const (
	// PhaseNeedTopic waits for the user to state what to research.
	PhaseNeedTopic Phase = "need_topic"
	// PhaseCollectingAnswers asks the clarifying questions one at a time.
	PhaseCollectingAnswers Phase = "collecting_answers"
	// PhaseAskEmailConsent asks whether the finished report should be emailed.
	PhaseAskEmailConsent Phase = "ask_email_consent"
	// PhaseGetEmailAddress waits for the delivery address.
	PhaseGetEmailAddress Phase = "get_email_address"
)

// Conversation is the durable state of one dialogue. It is serialized as-is
// by the redis backend, so every field that must survive a restart carries a
// JSON tag.
type Conversation struct {
	ID               string       `json:"id"`
	Phase            Phase        `json:"phase"`
	Topic            string       `json:"topic,omitempty"`
	PendingQuestions []string     `json:"pending_questions,omitempty"`
	Answers          []string     `json:"answers,omitempty"`
	EmailAddress     string       `json:"email_address,omitempty"`
	LastReport       *core.Report `json:"last_report,omitempty"`
	LastSeen         time.Time    `json:"last_seen"`
}

// NextQuestion returns the clarifying question awaiting an answer, or ""
// when every question has been answered.
func (c *Conversation) NextQuestion() string {
	if len(c.Answers) >= len(c.PendingQuestions) {
		return ""
	}
	return c.PendingQuestions[len(c.Answers)]
}

// Reset returns the conversation to the start of the dialogue, keeping the
// last report around so a later consent answer can still deliver it.
func (c *Conversation) Reset() {
	c.Phase = PhaseNeedTopic
	c.Topic = ""
	c.PendingQuestions = nil
	c.Answers = nil
}

// Registry owns conversation state and serializes access to it: Acquire
// blocks until the caller holds the conversation exclusively, Release
// persists it and lets the next turn in. Conversations idle past their TTL
// are dropped.
type Registry interface {
	Acquire(ctx context.Context, id string) (*Conversation, error)
	Release(ctx context.Context, conv *Conversation) error
	Close() error
}

// NewConversation is shared by the backends so a fresh conversation always
// starts in the same phase.
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:       id,
		Phase:    PhaseNeedTopic,
		LastSeen: time.Now(),
	}
}
