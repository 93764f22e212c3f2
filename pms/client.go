package pms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"staysync/config"
)

// Record is one loosely-typed upstream object. Field names and casing differ
// between endpoints and across time; the normalize package resolves them.
type Record = map[string]any

// Client talks to the upstream PMS REST API for one integration. It owns
// request authentication, retry-with-backoff, and the defensive paginator.
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	pageSize     int
	maxRetries   int
	backoffBase  time.Duration
	endpoints    map[string]string
	httpClient   *http.Client
}

// defaultEndpoints maps each resource to its conventional upstream path.
// Per-integration YAML may remap any of them.
func defaultEndpoints() map[string]string {
	return map[string]string{
		"listings":     "/listings",
		"reservations": "/reservations",
		"inbox":        "/inbox",
		"reviews":      "/reviews",
		"webhooks":     "/webhooks",
	}
}

func NewClient(cfg *config.IntegrationConfig) (*Client, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	endpoints := defaultEndpoints()
	for name, path := range cfg.Endpoints {
		if _, ok := endpoints[name]; !ok {
			return nil, fmt.Errorf("integration %s: unknown endpoint %q", cfg.ID, name)
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		endpoints[name] = strings.TrimRight(path, "/")
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		apiKeyHeader: cfg.APIKeyHeader,
		pageSize:     cfg.PageSize,
		maxRetries:   cfg.MaxRetries,
		backoffBase:  cfg.RetryBackoff(),
		endpoints:    endpoints,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// RequestError is returned when retries against an endpoint are exhausted.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("pms request %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("pms request %s: %v", e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// FetchPage requests a single page. Transient failures (network errors, 5xx,
// 429) are retried with exponential backoff; a malformed JSON body is
// terminal and never retried.
func (c *Client) FetchPage(ctx context.Context, endpoint string, params url.Values) ([]Record, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, status, err := c.doWithRetry(ctx, reqURL, endpoint)
	if err != nil {
		return nil, err
	}

	records, decErr := decodeEnvelope(body)
	if decErr != nil {
		// Malformed body is terminal for this request.
		return nil, &RequestError{Endpoint: endpoint, StatusCode: status, Err: decErr}
	}
	return records, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffBase
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set(c.apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, resp.StatusCode, nil
}

func retryable(status int, err error) bool {
	if status == 0 {
		return err != nil // network-level failure
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

// decodeEnvelope accepts either a bare JSON array or a {"data":[...]} object
// so downstream code only ever sees a flat record slice.
func decodeEnvelope(body []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var records []Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Data []Record `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope.Data, nil
}

// FetchAll pages through an endpoint defensively. The upstream is known to
// ignore client page-size limits, redeliver pages, and report bogus totals,
// so termination relies only on observed content: stop after two consecutive
// pages that contribute zero new records, or at maxPages.
func (c *Client) FetchAll(ctx context.Context, endpoint string, params url.Values, maxPages int) ([]Record, error) {
	var all []Record
	seen := make(map[string]bool)
	emptyStreak := 0

	for page := 1; page <= maxPages; page++ {
		pageParams := url.Values{}
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams.Set("page", fmt.Sprintf("%d", page))
		pageParams.Set("limit", fmt.Sprintf("%d", c.pageSize))

		records, err := c.FetchPage(ctx, endpoint, pageParams)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		fresh := 0
		for _, r := range records {
			id := RecordID(r)
			if id == "" {
				// No usable identifier; keep it but it cannot be deduped.
				all = append(all, r)
				fresh++
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, r)
			fresh++
		}

		if fresh == 0 {
			emptyStreak++
			if emptyStreak >= 2 {
				break
			}
		} else {
			emptyStreak = 0
		}
	}

	return all, nil
}

// recordIDKeys are the identifier aliases seen across upstream endpoints.
var recordIDKeys = []string{"id", "_id", "uuid", "listingId", "listing_id", "reservationId", "reservation_id"}

// RecordID extracts a stable identifier for cross-page deduplication.
func RecordID(r Record) string {
	for _, key := range recordIDKeys {
		if v, ok := r[key]; ok && v != nil {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case float64:
				return fmt.Sprintf("%.0f", val)
			}
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
