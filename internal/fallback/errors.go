package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatgate/internal/core"
)

// ExhaustedError reports that every attempt failed or came back empty.
type ExhaustedError struct {
	Attempts core.AttemptLog
	// LastErr is the last hard failure, nil when every attempt was empty
	LastErr error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers/models unavailable. attempts: %s | last error: %s",
		e.Attempts, describeError(e.LastErr))
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// describeError renders an error as "Kind: message".
func describeError(err error) string {
	if err == nil {
		return "none"
	}

	var gwErr *core.GatewayError
	switch {
	case errors.As(err, &gwErr):
		return fmt.Sprintf("%s: %s", gwErr.Type, gwErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout: " + err.Error()
	default:
		return errorKind(err) + ": " + err.Error()
	}
}

// errorKind is the bare type name of err, e.g. "OpError" for *net.OpError.
func errorKind(err error) string {
	kind := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		kind = kind[i+1:]
	}
	return kind
}
