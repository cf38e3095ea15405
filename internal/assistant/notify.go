package assistant

import (
	"context"
	"log/slog"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/validation"
)

type ctxKey int

const acceptDecisionKey ctxKey = iota

// WithAcceptDecision returns a context carrying the user's answer to a
// pending accept-with-issues prompt. API clients answer the prompt up front;
// the pipeline reads the decision when (and only when) it actually asks.
func WithAcceptDecision(ctx context.Context, accept bool) context.Context {
	return context.WithValue(ctx, acceptDecisionKey, accept)
}

// acceptDecision extracts a pre-supplied override decision from the context
func acceptDecision(ctx context.Context) (decision, ok bool) {
	v, ok := ctx.Value(acceptDecisionKey).(bool)
	return v, ok
}

// LogNotifier implements validation.Notifier for the HTTP surface.
// Notifications go to the structured log; confirmation prompts are answered
// from the request context, declining when no answer was supplied.
type LogNotifier struct{}

// Notify surfaces a message through the structured log
func (n *LogNotifier) Notify(ctx context.Context, message string, severity validation.Severity) {
	switch severity {
	case validation.SeverityError:
		slog.Error(message)
	case validation.SeverityWarning:
		slog.Warn(message)
	default:
		slog.Info(message, "severity", severity)
	}
}

// PromptConfirm answers from the request context, declining by default
func (n *LogNotifier) PromptConfirm(ctx context.Context, message string) (bool, error) {
	if decision, ok := acceptDecision(ctx); ok {
		return decision, nil
	}
	slog.Info("No override decision supplied, declining", "prompt", message)
	return false, nil
}
