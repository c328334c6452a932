package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samjosdev/deepresearch/session"
)

var chatTracer trace.Tracer = otel.Tracer("deepresearch/internal/server/chat")

// ChatHandler exposes the research dialogue over HTTP. Each POST is one turn;
// the response streams the turn's events via Server-Sent Events.
type ChatHandler struct {
	Manager *session.Manager
}

// Register binds the chat routes. With a secret the routes require a valid
// token; without one (no account store configured) the dialogue is open.
func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	if len(secret) > 0 {
		g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	}
	g.POST("", h.turn)
	g.POST("/:conversation_id", h.turn)
}

// turn runs one dialogue turn and streams the resulting events. The
// conversation id is echoed in the X-Conversation-ID header so the first
// turn (which generates the id) can be continued.
func (h *ChatHandler) turn(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	conversationID := c.Param("conversation_id")
	ctx, span := chatTracer.Start(ctx, "ChatHandler.turn")
	defer span.End()
	if conversationID != "" {
		span.SetAttributes(attribute.String("conversation_id", conversationID))
	}
	c.SetRequest(req.WithContext(ctx))

	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(body.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	id, events, err := h.Manager.HandleTurn(ctx, conversationID, body.Message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Conversation-ID", id)
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			span.RecordError(err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			span.RecordError(err)
			return nil
		}
		flusher.Flush()
	}
	return nil
}
