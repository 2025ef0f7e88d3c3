package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fieldops/internal/model"
)

// WatchOdometer follows the admin odometer stream and calls fn for every
// reading until ctx is done or the server closes the stream. It is
// admin-only.
func (c *Client) WatchOdometer(ctx context.Context, fn func(model.OdometerLog)) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api.baseURL+"/admin/events/odometer", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	// The stream outlives any request timeout; ctx bounds it instead.
	stream := &http.Client{Transport: c.api.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("GET /admin/events/odometer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	var event string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "odometer" && data.Len() > 0 {
				var o model.OdometerLog
				if err := json.Unmarshal([]byte(data.String()), &o); err != nil {
					return fmt.Errorf("decode odometer event: %w", err)
				}
				fn(o)
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
