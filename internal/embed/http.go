package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// doJSON sends body (when non-nil) and decodes a JSON response into out.
// Transport failures, 429 and 5xx responses are retryable network errors;
// other non-2xx responses are permanent embedding errors.
func doJSON(ctx context.Context, client *http.Client, method, url string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return verrors.New(verrors.ErrCodeNetworkTimeout, fmt.Sprintf("request to %s timed out", url), err)
		}
		return verrors.NetworkError(fmt.Sprintf("request to %s failed", url), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			return verrors.New(verrors.ErrCodeServiceOverloaded, "embedding service overloaded", statusErr)
		case resp.StatusCode >= 500:
			return verrors.NetworkError("embedding service error", statusErr)
		default:
			return verrors.EmbeddingError("embedding request rejected", statusErr)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return verrors.EmbeddingError("failed to decode embedding response", err)
	}
	return nil
}
