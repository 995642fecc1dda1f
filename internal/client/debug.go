package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/namikmesic/varys/internal/debuglog"
)

func (c *Client) DebugToken(ctx context.Context) (debuglog.Token, error) {
	var tok debuglog.Token
	if err := c.doJSON(ctx, "debug.token", http.MethodPost, "/debug/token", nil, "", nil, &tok); err != nil {
		return debuglog.Token{}, err
	}
	return tok, nil
}

// DebugLogs fetches backend logs, optionally narrowed to one log type.
func (c *Client) DebugLogs(ctx context.Context, filter, token string) (debuglog.Logs, error) {
	var query url.Values
	if filter != "" {
		query = url.Values{"type": {filter}}
	}
	var logs debuglog.Logs
	if err := c.doJSON(ctx, "debug.logs", http.MethodGet, "/debug/logs", query, token, nil, &logs); err != nil {
		return debuglog.Logs{}, err
	}
	return logs, nil
}

func (c *Client) ClearDebugLogs(ctx context.Context, token string) error {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, "debug.clear", http.MethodDelete, "/debug/logs", nil, token, nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return &RemoteError{Op: "debug.clear", Message: out.Message}
	}
	return nil
}

var _ debuglog.API = (*Client)(nil)
