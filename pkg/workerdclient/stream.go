// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workerdclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Event is one parsed SSE frame from a session's event stream: Type comes
// from the "event:" line, Data from the "data:" line (raw JSON, left for
// the caller to unmarshal into whatever canonical-event shape it expects).
type Event struct {
	Type string
	Data string
}

// Stream opens GET /sessions/{id}/events/stream and delivers parsed
// frames on the returned channel until ctx is cancelled or the server
// closes the connection. Heartbeat comment lines (": heartbeat") are
// swallowed, not delivered.
func (c *Client) Stream(ctx context.Context, sessionID string, sinceEventID int64) (<-chan Event, error) {
	url := fmt.Sprintf("%s/sessions/%s/events/stream?since=%d", c.baseURL, sessionID, sinceEventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("workerdclient: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workerdclient: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("workerdclient: stream rejected: %s", resp.Status)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var pending Event
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				pending.Type = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				pending.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && pending.Type != "":
				select {
				case out <- pending:
				case <-ctx.Done():
					return
				}
				pending = Event{}
			}
		}
	}()

	return out, nil
}
