package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"triagesync/internal/config"
	"triagesync/internal/models"

	"golang.org/x/time/rate"
)

const (
	// Success bodies are read in full up to a sanity cap; a large create
	// response must not lose the external ID sitting at its tail. Error
	// bodies are cut down to a short snippet for the failure message.
	maxResponseBodyBytes = 1 << 20
	maxErrorSnippetBytes = 4096
)

// RESTAdapter talks to a JSON-over-HTTP integration target. Requests are
// throttled by a client-side token bucket so a burst of queued tasks cannot
// trip the target's rate limits.
type RESTAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewRESTAdapter(cfg config.IntegrationConfig) *RESTAdapter {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	return &RESTAdapter{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (a *RESTAdapter) Name() string { return a.name }

// Create posts the payload to /{entityType} and returns the ID the target
// assigned.
func (a *RESTAdapter) Create(ctx context.Context, task *models.SyncTask) (string, error) {
	url := fmt.Sprintf("%s/%s", a.baseURL, task.EntityType)
	body, err := a.do(ctx, http.MethodPost, url, task.Payload)
	if err != nil {
		return "", err
	}
	return extractID(body), nil
}

// Update puts the payload to /{entityType}/{entityID}.
func (a *RESTAdapter) Update(ctx context.Context, task *models.SyncTask) error {
	url := fmt.Sprintf("%s/%s/%s", a.baseURL, task.EntityType, task.EntityID)
	_, err := a.do(ctx, http.MethodPut, url, task.Payload)
	return err
}

// Sync fetches the remote representation from /{entityType}/{entityID}.
func (a *RESTAdapter) Sync(ctx context.Context, task *models.SyncTask) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", a.baseURL, task.EntityType, task.EntityID)
	body, err := a.do(ctx, http.MethodGet, url, "")
	if err != nil {
		return "", err
	}
	return extractID(body), nil
}

func (a *RESTAdapter) do(ctx context.Context, method, url, payload string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != "" {
		reqBody = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > maxErrorSnippetBytes {
			snippet = snippet[:maxErrorSnippetBytes]
		}
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return body, nil
}

// extractID pulls the "id" field from a JSON response body. Targets that
// respond with something else keep the local ID.
func extractID(body []byte) string {
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.ID
}
