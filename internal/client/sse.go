package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/logging"
)

const streamBufferSize = 256

// SendMessage posts a prompt to the session and follows the response as a
// server-sent event stream. Each data payload is delivered verbatim; the
// channel closes when the server ends the response or stop is called.
func (c *Client) SendMessage(ctx context.Context, sessionID string, prompt PromptRequest) (<-chan []byte, func(), error) {
	path, err := sessionPath(sessionID, "message")
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(prompt)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	url := c.baseURL + path
	c.streamf("stream open", logging.F("session_id", sessionID), logging.F("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		c.streamf("stream error", logging.F("session_id", sessionID), logging.F("status", resp.StatusCode))
		return nil, nil, decodeRequestError(resp, http.MethodPost, path)
	}

	ch := make(chan []byte, streamBufferSize)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		count := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var dataLines []string

		flush := func() bool {
			if len(dataLines) == 0 {
				return true
			}
			payload := []byte(strings.Join(dataLines, "\n"))
			dataLines = dataLines[:0]
			select {
			case ch <- payload:
			case <-ctx.Done():
				return false
			}
			count++
			if count == 1 {
				c.streamf("stream first", logging.F("session_id", sessionID))
			}
			return true
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			}
		}
		if !flush() {
			return
		}
		if err := scanner.Err(); err != nil {
			c.streamf("stream scan error", logging.F("session_id", sessionID), logging.Err(err))
		}
		c.streamf("stream close",
			logging.F("session_id", sessionID),
			logging.F("count", count),
			logging.F("duration", time.Since(start)),
		)
	}()

	return ch, cancel, nil
}

func (c *Client) streamf(msg string, fields ...logging.Field) {
	if !c.streamDebug {
		return
	}
	c.logger.Debug(msg, fields...)
}
