package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrStopWatching can be returned from a WatchEvents callback to end the
// stream without an error.
var ErrStopWatching = errors.New("stop watching")

// WatchEvents streams record change events until ctx is done, the server
// closes the stream, or fn returns an error. Topics use NATS-style
// wildcards; none means every topic. lastEventID resumes after a known
// event when the server still holds it.
func (c *HTTPClient) WatchEvents(ctx context.Context, topics []string, lastEventID string, fn func(Event) error) error {
	u := c.baseURL + "/v1/events/stream"
	if len(topics) > 0 {
		u += "?" + url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	// Streams are long lived, so the per-request timeout does not apply.
	hc := &http.Client{Transport: c.httpClient.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, body)
	}

	err = readEvents(resp.Body, fn)
	if errors.Is(err, ErrStopWatching) || ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses server-sent event frames from r and hands each to fn.
func readEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)

	var (
		cur  Event
		data []string
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if cur.Topic != "" || len(data) > 0 {
				cur.Data = json.RawMessage(strings.Join(data, "\n"))
				if err := fn(cur); err != nil {
					return err
				}
			}
			cur, data = Event{}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Topic = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}
