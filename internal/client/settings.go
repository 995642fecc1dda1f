package client

import (
	"context"
	"net/http"

	"github.com/namikmesic/varys/internal/settings"
)

type settingsEnvelope struct {
	Settings *settings.Settings `json:"settings,omitempty"`
	Success  bool               `json:"success"`
	Message  string             `json:"message,omitempty"`
}

func (c *Client) GetSettings(ctx context.Context) (settings.Settings, error) {
	return c.settingsCall(ctx, "settings.get", http.MethodGet, "/settings", nil, nil)
}

func (c *Client) UpdateSettings(ctx context.Context, s settings.Settings) (settings.Settings, error) {
	return c.settingsCall(ctx, "settings.update", http.MethodPut, "/settings", &settingsEnvelope{Settings: &s}, &s)
}

func (c *Client) ResetSettings(ctx context.Context) (settings.Settings, error) {
	def := settings.Default()
	return c.settingsCall(ctx, "settings.reset", http.MethodPost, "/settings/reset", nil, &def)
}

// settingsCall runs one settings request. fallback is returned when a
// successful response omits the settings object.
func (c *Client) settingsCall(ctx context.Context, op, method, path string, in any, fallback *settings.Settings) (settings.Settings, error) {
	var out settingsEnvelope
	if err := c.doJSON(ctx, op, method, path, nil, "", in, &out); err != nil {
		return settings.Settings{}, err
	}
	if !out.Success {
		return settings.Settings{}, &RemoteError{Op: op, Message: out.Message}
	}
	switch {
	case out.Settings != nil:
		return *out.Settings, nil
	case fallback != nil:
		return *fallback, nil
	default:
		return settings.Settings{}, &RemoteError{Op: op, Message: "response carried no settings"}
	}
}

var _ settings.Remote = (*Client)(nil)
