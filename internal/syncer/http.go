package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notelock/notelock/internal/storage"
)

// HTTPTransport talks to a notelock sync server. It holds ciphertext
// only; the server never sees a key. Retry scheduling lives in the
// queue, so this transport only classifies failures as transient or
// permanent.
type HTTPTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPTransport creates a transport with a sane default client.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) addAuthHeader(req *http.Request) {
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
}

// Push sends one operation to POST /v1/ops. 2xx means the remote
// applied it durably; 4xx is a permanent rejection; everything else
// is transient.
func (t *HTTPTransport) Push(ctx context.Context, op storage.Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/v1/ops", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.addAuthHeader(req)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	reason := strings.TrimSpace(string(msg))
	if reason == "" {
		reason = resp.Status
	}
	if isRetryableStatus(resp.StatusCode) {
		return &TransientError{Err: fmt.Errorf("push failed: %s %s", resp.Status, reason)}
	}
	return &RejectedError{Reason: reason}
}

// Pull fetches records changed since the watermark from
// GET /v1/changes?since=<RFC3339Nano>.
func (t *HTTPTransport) Pull(ctx context.Context, since time.Time) ([]storage.Record, error) {
	endpoint := t.BaseURL + "/v1/changes"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	t.addAuthHeader(req)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("pull failed: %s %s", resp.Status, strings.TrimSpace(string(msg)))
		if isRetryableStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}

	var records []storage.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return records, nil
}

// classifyNetworkError keeps caller cancellation distinguishable;
// every other transport-level failure (net errors, timeouts) is
// retryable.
func classifyNetworkError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return &TransientError{Err: fmt.Errorf("request failed: %w", err)}
}

func isRetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
