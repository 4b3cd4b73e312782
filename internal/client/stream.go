package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-notifications-nosql/internal/domain"
)

const maxEventSize = 1 << 20

// Stream opens the server-sent event stream and calls fn for every event
// until ctx is cancelled or the connection drops. It returns nil when ctx
// ends the stream and io.ErrUnexpectedEOF when the server does.
func (c *Client) Stream(ctx context.Context, fn func(domain.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/notifications/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses the text/event-stream framing. Only unnamed events carry
// notifications; named ones such as "ping" are skipped.
func readEvents(r io.Reader, fn func(domain.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	var (
		name string
		data strings.Builder
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data.Len() > 0 && (name == "" || name == "message") {
				var e domain.Event
				if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
					return fmt.Errorf("decode stream event: %w", err)
				}
				fn(e)
			}
			name = ""
			data.Reset()
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return io.ErrUnexpectedEOF
}
