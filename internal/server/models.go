package server

import "time"

// HTTPError is the uniform error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type reportListItem struct {
	ID               string    `json:"id"`
	Topic            string    `json:"topic"`
	Summary          string    `json:"summary"`
	SearchesPlanned  int       `json:"searches_planned"`
	SearchesUsed     int       `json:"searches_used"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type reportResponse struct {
	reportListItem
	MarkdownReport string   `json:"markdown_report"`
	FollowUps      []string `json:"follow_up_questions,omitempty"`
}
