// Package sentryhelper scopes Sentry hubs and transactions to a single command invocation.
package sentryhelper

import (
	"context"
	"fmt"

	sentry "github.com/getsentry/sentry-go"
)

type contextKey string

const hubContextKey contextKey = "sentry_hub"

// Command identifies the invocation a transaction belongs to.
type Command struct {
	Name    string
	Source  string
	GuildID string
	UserID  string
}

// StartCommandTransaction clones the current hub for cmd and starts its transaction.
// Breadcrumbs and captures made through the returned context stay on the clone.
func StartCommandTransaction(ctx context.Context, cmd Command) (context.Context, *sentry.Span) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTags(map[string]string{
		"command":  cmd.Name,
		"source":   cmd.Source,
		"guild_id": cmd.GuildID,
	})
	hub.Scope().SetUser(sentry.User{ID: cmd.UserID})
	ctx = context.WithValue(ctx, hubContextKey, hub)

	transaction := sentry.StartTransaction(ctx, fmt.Sprintf("discord.%s.%s", cmd.Source, cmd.Name),
		sentry.WithOpName("discord.command"),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	transaction.SetTag("command", cmd.Name)
	transaction.SetTag("source", cmd.Source)
	transaction.SetTag("guild_id", cmd.GuildID)
	hub.Scope().SetSpan(transaction)

	return transaction.Context(), transaction
}

// HubFromContext returns the per-command hub, or CurrentHub outside of a command.
func HubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if hub, ok := ctx.Value(hubContextKey).(*sentry.Hub); ok && hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func AddBreadcrumb(ctx context.Context, category string, message string) {
	HubFromContext(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    sentry.LevelInfo,
	}, nil)
}

func CaptureException(ctx context.Context, err error) *sentry.EventID {
	return HubFromContext(ctx).CaptureException(err)
}

// StartSpan starts a child of the transaction in ctx, e.g. around a REST call.
func StartSpan(ctx context.Context, operation string) *sentry.Span {
	return sentry.StartSpan(ctx, operation)
}

// Finish closes span with an ok or internal error status.
func Finish(span *sentry.Span, err error) {
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}
	span.Finish()
}
