package webhook

import (
	"context"
	"fmt"
	"log"
	"time"

	"staysync/models"
	"staysync/pms"
	"staysync/storage"
)

// Topics we subscribe to upstream. Each maps to a dispatch case in the
// ingestor.
var subscriptionTopics = []string{
	"listing_updated",
	"new_reservation",
	"reservation_updated",
	"reservation_cancelled",
	"new_message",
	"review_created",
}

// Registrar makes sure the upstream holds exactly one subscription per topic
// pointing at our callback URL. Safe to re-run on every startup.
type Registrar struct {
	store       storage.Store
	client      *pms.Client
	integration string
	callbackURL string
}

func NewRegistrar(store storage.Store, client *pms.Client, integration, callbackURL string) *Registrar {
	return &Registrar{
		store:       store,
		client:      client,
		integration: integration,
		callbackURL: callbackURL,
	}
}

// EnsureRegistrations reconciles upstream subscriptions against the desired
// topic set. Existing matching subscriptions are recorded, missing ones
// created. Surplus upstream subscriptions are logged, never deleted.
func (r *Registrar) EnsureRegistrations(ctx context.Context) error {
	if r.callbackURL == "" {
		return fmt.Errorf("no callback URL configured for %s", r.integration)
	}

	existing, err := r.client.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list upstream webhooks: %w", err)
	}

	byTopic := make(map[string]pms.Record)
	for _, rec := range existing {
		topic, _ := rec["topic"].(string)
		callback, _ := rec["callbackUrl"].(string)
		if topic == "" {
			continue
		}
		if callback == r.callbackURL {
			byTopic[topic] = rec
		} else {
			log.Printf("Webhook[%s]: upstream subscription for %q points elsewhere (%s), leaving it alone",
				r.integration, topic, callback)
		}
	}

	created := 0
	for _, topic := range subscriptionTopics {
		rec, ok := byTopic[topic]
		if !ok {
			rec, err = r.client.CreateWebhook(ctx, topic, r.callbackURL)
			if err != nil {
				return fmt.Errorf("create subscription for %q: %w", topic, err)
			}
			created++
		}

		if err := r.store.UpsertWebhookRegistration(ctx, &models.WebhookRegistration{
			Topic:        topic,
			CallbackURL:  r.callbackURL,
			UpstreamID:   pms.RecordID(rec),
			RegisteredAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("record subscription for %q: %w", topic, err)
		}
	}

	log.Printf("Webhook[%s]: subscriptions reconciled: %d present, %d created",
		r.integration, len(byTopic), created)
	return nil
}
