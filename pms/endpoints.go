package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// Resource-specific wrappers. The reservations endpoint is filterable by
// listing id only; every other upstream filter is unreliable and not used.

func (c *Client) Listings(ctx context.Context, maxPages int) ([]Record, error) {
	return c.FetchAll(ctx, c.endpoints["listings"], nil, maxPages)
}

func (c *Client) Listing(ctx context.Context, listingID string) (Record, error) {
	return c.FetchOne(ctx, c.endpoints["listings"]+"/"+url.PathEscape(listingID))
}

func (c *Client) ReservationsForListing(ctx context.Context, listingID string, maxPages int) ([]Record, error) {
	params := url.Values{}
	params.Set("listingId", listingID)
	return c.FetchAll(ctx, c.endpoints["reservations"], params, maxPages)
}

func (c *Client) Reservation(ctx context.Context, reservationID string) (Record, error) {
	return c.FetchOne(ctx, c.endpoints["reservations"]+"/"+url.PathEscape(reservationID))
}

func (c *Client) InboxForListing(ctx context.Context, listingID string, maxPages int) ([]Record, error) {
	params := url.Values{}
	params.Set("listingId", listingID)
	return c.FetchAll(ctx, c.endpoints["inbox"], params, maxPages)
}

func (c *Client) Thread(ctx context.Context, threadID string) (Record, error) {
	return c.FetchOne(ctx, c.endpoints["inbox"]+"/"+url.PathEscape(threadID))
}

func (c *Client) Reviews(ctx context.Context, maxPages int) ([]Record, error) {
	return c.FetchAll(ctx, c.endpoints["reviews"], nil, maxPages)
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Record, error) {
	return c.FetchPage(ctx, c.endpoints["webhooks"], nil)
}

func (c *Client) CreateWebhook(ctx context.Context, topic, callbackURL string) (Record, error) {
	payload, err := json.Marshal(map[string]string{
		"topic":       topic,
		"callbackUrl": callbackURL,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoints["webhooks"]
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected status: %s", truncate(body, 200))}
	}

	return decodeOne(body)
}

// FetchOne requests a single-object endpoint, with the same retry and
// envelope semantics as FetchPage.
func (c *Client) FetchOne(ctx context.Context, endpoint string) (Record, error) {
	body, status, err := c.doWithRetry(ctx, c.baseURL+endpoint, endpoint)
	if err != nil {
		return nil, err
	}

	record, decErr := decodeOne(body)
	if decErr != nil {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: status, Err: decErr}
	}
	return record, nil
}

func (c *Client) doWithRetry(ctx context.Context, reqURL, endpoint string) ([]byte, int, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, 0, err
			}
		}

		body, status, err := c.do(ctx, reqURL)
		if err != nil {
			lastErr = err
			lastStatus = status
			if retryable(status, err) {
				log.Printf("PMS: retryable error on %s (attempt %d/%d): %v", endpoint, attempt+1, c.maxRetries+1, err)
				continue
			}
			return nil, status, &RequestError{Endpoint: endpoint, StatusCode: status, Err: err}
		}
		return body, status, nil
	}

	return nil, lastStatus, &RequestError{Endpoint: endpoint, StatusCode: lastStatus,
		Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// decodeOne accepts a bare object or a {"data":{...}} envelope.
func decodeOne(body []byte) (Record, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(body, &probe); err == nil && len(probe.Data) > 0 {
			body = probe.Data
		}
	}

	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}
