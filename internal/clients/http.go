package clients

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 32 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

func trimBase(u string) string {
	return strings.TrimRight(u, "/")
}
