package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const createProfilePath = "/internal/users/create_profile"

// HTTPTransport calls the user service over plain HTTP. It serves as the
// fallback when the gRPC transport fails.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds the HTTP transport. Per-call deadlines come from
// the caller's context, not the client.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (t *HTTPTransport) CreateProfile(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+createProfilePath, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Request-ID", req.CorrelationID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return OutcomeConflict, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeCreated, nil
	default:
		return 0, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}
}
