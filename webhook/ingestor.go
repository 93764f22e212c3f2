package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"staysync/models"
	"staysync/storage"
	"staysync/sync"
)

// Envelope is the SNS-style notification wrapper the PMS delivers.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Subject      string `json:"Subject"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp"`
	SubscribeURL string `json:"SubscribeURL"`
	Token        string `json:"Token"`
}

// eventPayload is the inner Message body. Only the ids matter; each subject
// uses whichever id scopes its sync. Deliveries spell the keys in camelCase
// or snake_case and send ids as strings or numbers, so decoding goes through
// a map rather than struct tags.
type eventPayload struct {
	ListingID     string
	ReservationID string
	ThreadID      string
	ReviewID      string
}

func decodePayload(raw string) (eventPayload, error) {
	var p eventPayload
	if raw == "" {
		return p, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return p, fmt.Errorf("decode message payload: %w", err)
	}
	p.ListingID = payloadID(m, "listingId", "listing_id")
	p.ReservationID = payloadID(m, "reservationId", "reservation_id")
	p.ThreadID = payloadID(m, "threadId", "thread_id", "conversationId", "conversation_id")
	p.ReviewID = payloadID(m, "reviewId", "review_id")
	return p, nil
}

func payloadID(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// Ingestor processes webhook deliveries for one integration. Confirmation
// requests are verified against an allowed domain before the subscribe URL
// is visited; notifications are deduplicated by MessageId through the event
// log, so a redelivered notification is acknowledged without a second sync.
type Ingestor struct {
	store         storage.Store
	svc           *sync.Service
	allowedDomain string
	httpClient    *http.Client
}

func NewIngestor(store storage.Store, svc *sync.Service, allowedDomain string) *Ingestor {
	if allowedDomain == "" {
		allowedDomain = "amazonaws.com"
	}
	return &Ingestor{
		store:         store,
		svc:           svc,
		allowedDomain: allowedDomain,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Result is what Handle reports back to the HTTP layer.
type Result struct {
	Status int
	Body   map[string]any
}

func (i *Ingestor) Handle(ctx context.Context, body []byte) Result {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{Status: http.StatusBadRequest, Body: map[string]any{"error": "Invalid JSON"}}
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		return i.confirm(ctx, &env)
	case "Notification":
		return i.notify(ctx, &env, body)
	case "UnsubscribeConfirmation":
		log.Printf("Webhook[%s]: upstream unsubscribed topic %s", i.svc.Integration(), env.TopicArn)
		return Result{Status: http.StatusOK, Body: map[string]any{"success": true}}
	default:
		// Unknown envelope types are acknowledged so the upstream does not
		// retry them forever.
		log.Printf("Webhook[%s]: ignoring envelope type %q", i.svc.Integration(), env.Type)
		return Result{Status: http.StatusOK, Body: map[string]any{"ignored": true}}
	}
}

func (i *Ingestor) confirm(ctx context.Context, env *Envelope) Result {
	if err := i.checkSubscribeURL(env.SubscribeURL); err != nil {
		log.Printf("Warning: rejecting subscription confirmation: %v", err)
		return Result{Status: http.StatusBadRequest, Body: map[string]any{"error": "untrusted subscribe URL"}}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", env.SubscribeURL, nil)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Body: map[string]any{"error": "untrusted subscribe URL"}}
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		log.Printf("Warning: subscription confirmation failed: %v", err)
		return Result{Status: http.StatusBadGateway, Body: map[string]any{"error": "confirmation failed"}}
	}
	resp.Body.Close()

	log.Printf("Webhook[%s]: subscription confirmed (status %d)", i.svc.Integration(), resp.StatusCode)
	return Result{Status: http.StatusOK, Body: map[string]any{"success": true, "confirmed": true}}
}

// checkSubscribeURL accepts only HTTPS URLs whose host is the allowed domain
// or a subdomain of it. Anything else is a forged confirmation attempt.
func (i *Ingestor) checkSubscribeURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty subscribe URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("unparseable subscribe URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("subscribe URL scheme %q is not https", u.Scheme)
	}
	host := u.Hostname()
	if host != i.allowedDomain && !strings.HasSuffix(host, "."+i.allowedDomain) {
		return fmt.Errorf("subscribe URL host %q is outside %s", host, i.allowedDomain)
	}
	return nil
}

func (i *Ingestor) notify(ctx context.Context, env *Envelope, body []byte) Result {
	if env.MessageID == "" {
		return Result{Status: http.StatusBadRequest, Body: map[string]any{"error": "missing MessageId"}}
	}

	source := models.ScopedEventSource(models.EventSourceWebhook, i.svc.Integration())
	fresh, err := i.store.RecordEvent(ctx, source, env.MessageID, env.Subject, body)
	if err != nil {
		log.Printf("Warning: failed to record webhook event %s: %v", env.MessageID, err)
		return Result{Status: http.StatusInternalServerError, Body: map[string]any{"error": "event log write failed"}}
	}
	if !fresh {
		return Result{Status: http.StatusOK, Body: map[string]any{"success": true, "duplicate": true}}
	}

	if err := i.dispatch(ctx, env); err != nil {
		// The event stays recorded; the periodic full pass will repair any
		// state this scoped sync failed to apply.
		log.Printf("Warning: webhook %s (%s) dispatch failed: %v", env.MessageID, env.Subject, err)
		return Result{Status: http.StatusOK, Body: map[string]any{"success": true, "applied": false}}
	}
	return Result{Status: http.StatusOK, Body: map[string]any{"success": true}}
}

func (i *Ingestor) dispatch(ctx context.Context, env *Envelope) error {
	payload, err := decodePayload(env.Message)
	if err != nil {
		return err
	}

	switch env.Subject {
	case "listing_updated":
		if payload.ListingID == "" {
			return fmt.Errorf("listing_updated without listingId")
		}
		return i.svc.SyncListing(ctx, payload.ListingID)

	case "new_reservation", "reservation_updated", "reservation_cancelled":
		if payload.ReservationID != "" {
			return i.svc.SyncReservation(ctx, payload.ReservationID)
		}
		if payload.ListingID != "" {
			return i.svc.SyncReservationsForListing(ctx, payload.ListingID)
		}
		return fmt.Errorf("%s without reservationId or listingId", env.Subject)

	case "new_message":
		if payload.ListingID == "" {
			return fmt.Errorf("new_message without listingId")
		}
		return i.svc.SyncMessagesForListing(ctx, payload.ListingID)

	case "review_created":
		// Reviews are collected by the periodic pass; the notification alone
		// is already in the event log.
		return nil

	default:
		log.Printf("Webhook[%s]: no handler for subject %q", i.svc.Integration(), env.Subject)
		return nil
	}
}
