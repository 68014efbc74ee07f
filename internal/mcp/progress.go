package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

// progressNotifier is the part of *mcp.ServerSession the sink needs.
type progressNotifier interface {
	NotifyProgress(ctx context.Context, params *mcp.ProgressNotificationParams) error
}

// notifySink sends progress updates as MCP progress notifications.
type notifySink struct {
	ctx     context.Context
	session progressNotifier
}

// SendProgress implements progress.Sink.
func (s notifySink) SendProgress(token any, u progress.Update) error {
	return s.session.NotifyProgress(s.ctx, &mcp.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      float64(u.Percentage),
		Total:         100,
		Message:       u.Message,
	})
}

// reporterFor returns a reporter that streams to the caller, or nil when the
// request carries no progress token.
func reporterFor(ctx context.Context, req *mcp.CallToolRequest, logger *slog.Logger) *progress.Reporter {
	if req == nil || req.Session == nil || req.Params == nil {
		return nil
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nil
	}
	return progress.NewReporter(notifySink{ctx: ctx, session: req.Session}, token).WithLogger(logger)
}
