// Package webhook receives and processes push notifications from the
// upstream PMS, and manages the subscriptions that cause them to be sent.
package webhook

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"staysync/storage"
)

const maxBodyBytes = 1 << 20

// NewRouter mounts the webhook receiver and operational endpoints. One
// ingestor per integration, keyed by the integration id in the path.
func NewRouter(store storage.Store, ingestors map[string]*Ingestor) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/health/{integration}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "integration")
		health, err := store.GetIntegrationHealth(req.Context(), name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody("health lookup failed"))
			return
		}
		if health == nil {
			writeJSON(w, http.StatusNotFound, errorBody("no health recorded for "+name))
			return
		}
		writeJSON(w, http.StatusOK, health)
	})

	r.Post("/webhooks/{integration}", func(w http.ResponseWriter, req *http.Request) {
		ing, ok := ingestors[chi.URLParam(req, "integration")]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody("unknown integration"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("unreadable body"))
			return
		}

		result := ing.Handle(req.Context(), body)
		writeJSON(w, result.Status, result.Body)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: json encode failed: %v", err)
	}
}

func errorBody(msg string) map[string]any {
	return map[string]any{"error": msg}
}
