// Package httpcheck calls external verification providers over HTTP, optionally
// authenticated with OAuth2 client credentials.
package httpcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/core"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const (
	maxResponseBodyBytes = 1 << 20
	maxErrorSnippetBytes = 512
)

// Options configures a Client.
type Options struct {
	Endpoints  map[core.CheckKind]string // Required: provider URL per capability
	Timeout    time.Duration             // Optional: per-request timeout, defaults to 30s
	HTTPClient *http.Client              // Optional: base transport
	OAuth      *clientcredentials.Config // Optional: client credentials for every request
	Logger     *slog.Logger              // Optional: structured logger
}

// Client posts check requests to provider endpoints.
type Client struct {
	http      *http.Client
	endpoints map[core.CheckKind]string
	logger    *slog.Logger
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}

	hc := base
	if opts.OAuth != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = opts.OAuth.Client(ctx)
		hc.Timeout = timeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoints := make(map[core.CheckKind]string, len(opts.Endpoints))
	for k, v := range opts.Endpoints {
		if v != "" {
			endpoints[k] = v
		}
	}
	return &Client{http: hc, endpoints: endpoints, logger: logger.With("component", "httpcheck")}, nil
}

// FromConfig builds the capability table from configuration. Capabilities without a URL
// are left out so their jobs complete degraded.
func FromConfig(cfg config.ChecksConfig, logger *slog.Logger) (core.Checks, error) {
	cfg.Sanitize()
	endpoints := map[core.CheckKind]string{
		core.CheckIdentity:             cfg.IdentityURL,
		core.CheckScreening:            cfg.ScreeningURL,
		core.CheckDocumentOCR:          cfg.DocumentOCRURL,
		core.CheckDocumentVerification: cfg.DocumentVerificationURL,
	}
	configured := false
	for _, u := range endpoints {
		configured = configured || u != ""
	}
	if !configured {
		return core.Checks{}, nil
	}

	opts := Options{Endpoints: endpoints, Timeout: cfg.Timeout, Logger: logger}
	if cfg.OAuthEnabled() {
		opts.OAuth = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
	}
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return c.Checks(), nil
}

// Checks returns one ExternalCheck per configured capability.
func (c *Client) Checks() core.Checks {
	out := make(core.Checks, len(c.endpoints))
	for kind, url := range c.endpoints {
		out[kind] = &endpoint{client: c, kind: kind, url: url}
	}
	return out
}

type endpoint struct {
	client *Client
	kind   core.CheckKind
	url    string
}

// Run posts the request payload. 408, 429 and 5xx responses and transport errors are
// transient; any other non-2xx status rejects the input.
func (e *endpoint) Run(ctx context.Context, req core.CheckRequest) (json.RawMessage, error) {
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.ValidationErrorf("build %s request: %v", e.kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Job-ID", req.JobID)
	if req.SubjectID != "" {
		httpReq.Header.Set("X-Subject-ID", req.SubjectID)
	}

	resp, err := e.client.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Transient(fmt.Sprintf("%s request failed", e.kind), err)
	}
	body, truncated, readErr := readResponseBody(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil && readErr == nil {
		readErr = closeErr
	}
	if readErr != nil {
		return nil, apperrors.Transient(fmt.Sprintf("read %s response", e.kind), readErr)
	}

	e.client.logger.DebugContext(ctx, "check response",
		"kind", e.kind,
		"job_id", req.JobID,
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if truncated {
			return nil, apperrors.Transient(fmt.Sprintf("%s response exceeds %d bytes", e.kind, maxResponseBodyBytes), nil)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(body) {
			return nil, apperrors.Transient(fmt.Sprintf("%s response is not JSON", e.kind), nil)
		}
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, apperrors.Transient(fmt.Sprintf("%s provider returned %d: %s", e.kind, resp.StatusCode, snippet(body)), nil)
	default:
		return nil, apperrors.ValidationErrorf("%s provider rejected request with %d: %s", e.kind, resp.StatusCode, snippet(body))
	}
}

func readResponseBody(body io.Reader) ([]byte, bool, error) {
	if body == nil {
		return nil, false, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBodyBytes+1))
	truncated := len(data) > maxResponseBodyBytes
	if truncated {
		data = data[:maxResponseBodyBytes]
		if _, drainErr := io.Copy(io.Discard, body); drainErr != nil && err == nil {
			err = drainErr
		}
	}
	return data, truncated, err
}

func snippet(b []byte) string {
	if len(b) > maxErrorSnippetBytes {
		return string(b[:maxErrorSnippetBytes]) + "..."
	}
	return string(b)
}
