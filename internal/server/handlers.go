// Package server provides HTTP handlers and server setup for the chat gateway.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"chatgate/internal/auditlog"
	"chatgate/internal/core"
	"chatgate/internal/fallback"
)

// ChatService answers one user message. *fallback.Orchestrator implements it.
type ChatService interface {
	Complete(ctx context.Context, message string) (*fallback.Result, error)
	Plan() []core.Attempt
}

// Handler holds the HTTP handlers
type Handler struct {
	chat  ChatService
	audit auditlog.LoggerInterface
}

// NewHandler creates a new handler. A nil audit logger disables auditing.
func NewHandler(chat ChatService, audit auditlog.LoggerInterface) *Handler {
	if audit == nil {
		audit = &auditlog.NoopLogger{}
	}
	return &Handler{
		chat:  chat,
		audit: audit,
	}
}

// ChatRequest is the body accepted by POST /api/chat.
type ChatRequest struct {
	Message string `json:"message" example:"What is the capital of France?"`
}

// ChatResponse is returned on success.
type ChatResponse struct {
	Reply string `json:"reply" example:"Paris."`
}

// ErrorResponse is returned on every failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Chat handles POST /api/chat
//
// @Summary      Answer one user message
// @Description  Walks the provider/model fallback matrix and returns the first non-empty reply.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      ChatRequest  true  "User message"
// @Success      200      {object}  ChatResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      502      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /api/chat [post]
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	entry := auditlog.NewEntry(core.GetRequestID(ctx))
	entry.Data.ClientIP = c.RealIP()
	entry.Data.UserAgent = c.Request().UserAgent()

	message, err := readMessage(c.Request().Body)
	entry.MessageHash = auditlog.HashMessage(message)

	var result *fallback.Result
	if err != nil {
		h.record(entry, start, errorStatus(err), message, nil, err)
		return err
	}
	if message == "" {
		err = core.NewInvalidRequestError("Empty message", nil)
	} else {
		result, err = h.chat.Complete(ctx, message)
	}

	status := http.StatusOK
	if err != nil {
		status = errorStatus(err)
	}
	h.record(entry, start, status, message, result, err)

	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: result.Reply})
}

// readMessage returns the "message" string of a JSON body. Anything else,
// including a body that is not JSON, yields "". The only error is an HTTP
// error raised while reading, such as the body limit being exceeded.
func readMessage(body io.Reader) (string, error) {
	if body == nil {
		return "", nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return "", httpErr
		}
		return "", nil
	}
	if !gjson.ValidBytes(raw) {
		return "", nil
	}
	msg := gjson.GetBytes(raw, "message")
	if msg.Type != gjson.String {
		return "", nil
	}
	return msg.Str, nil
}

func (h *Handler) record(entry *auditlog.LogEntry, start time.Time, status int, message string, result *fallback.Result, err error) {
	entry.DurationNs = time.Since(start).Nanoseconds()
	entry.StatusCode = status

	reply := ""
	if result != nil {
		entry.Provider = result.Provider
		entry.Model = result.Model
		entry.Data.Attempts = result.Attempts
		reply = result.Reply
	}
	if err != nil {
		var gatewayErr *core.GatewayError
		if errors.As(err, &gatewayErr) {
			entry.Data.ErrorType = string(gatewayErr.Type)
		} else {
			entry.Data.ErrorType = string(core.ErrorTypeInternal)
		}
		entry.Data.ErrorMessage = err.Error()

		var exhausted *fallback.ExhaustedError
		if errors.As(err, &exhausted) {
			entry.Data.Attempts = exhausted.Attempts
		}
	}
	entry.SetBodies(h.audit.Config(), message, reply)

	h.audit.Write(entry)
}

// Health handles GET /health
//
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Attempts handles GET /api/attempts
//
// @Summary      Current fallback matrix
// @Description  Lists the provider/model attempts a chat request would walk, in order.
// @Tags         chat
// @Produce      json
// @Success      200  {array}  core.AttemptRecord
// @Router       /api/attempts [get]
func (h *Handler) Attempts(c echo.Context) error {
	plan := h.chat.Plan()
	out := make([]core.AttemptRecord, len(plan))
	for i, a := range plan {
		out[i] = core.AttemptRecord{Provider: a.ProviderName(), Model: a.Model}
	}
	return c.JSON(http.StatusOK, out)
}

func errorStatus(err error) int {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.HTTPStatusCode()
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}
