// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// stream abstracts the realtime channel: either a websocket or an SSE
// response body.
type stream interface {
	// read returns the next message payload.
	read() ([]byte, error)
	// write sends a payload upstream. SSE streams cannot write.
	write(payload []byte) error
	close() error
}

// wsStream wraps a websocket connection.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) read() ([]byte, error) {
	_, payload, err := s.conn.ReadMessage()
	return payload, err
}

func (s *wsStream) write(payload []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsStream) close() error {
	return s.conn.Close()
}

var errSSEWriteUnsupported = fmt.Errorf("sse stream is read-only")

// sseStream reads server-sent events, surfacing each data field as one
// message.
type sseStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func (s *sseStream) read() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return []byte(strings.TrimSpace(data)), nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sse stream closed")
}

func (s *sseStream) write([]byte) error {
	return errSSEWriteUnsupported
}

func (s *sseStream) close() error {
	return s.resp.Body.Close()
}

// dialFunc opens one realtime stream attempt.
type dialFunc func(ctx context.Context) (stream, error)

// defaultDial tries the websocket endpoint first and falls back to the
// SSE endpoint on failure.
func defaultDial(wsURL, sseURL string, client *http.Client) dialFunc {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	return func(ctx context.Context) (stream, error) {
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return &wsStream{conn: conn}, nil
		}
		wsErr := err

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("websocket: %w; sse: %v", wsErr, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close() //nolint:errcheck
			return nil, fmt.Errorf("websocket: %w; sse status %d", wsErr, resp.StatusCode)
		}
		return &sseStream{resp: resp, scanner: bufio.NewScanner(resp.Body)}, nil
	}
}
