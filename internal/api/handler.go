// Package api exposes the schema-driven data gateway over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"datagate/internal/domain"
	"datagate/internal/middleware"
	"datagate/internal/schema"
)

// Handler serves the /v1 routes. The data repository may be a single-store
// repository or the partition router; the handler does not distinguish.
type Handler struct {
	data     domain.DataRepository
	registry *schema.Registry
	audit    domain.AuditRepository
	logger   *slog.Logger
}

func NewHandler(data domain.DataRepository, registry *schema.Registry, audit domain.AuditRepository, logger *slog.Logger) *Handler {
	return &Handler{data: data, registry: registry, audit: audit, logger: logger}
}

// Routes mounts every gateway endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/schemas", h.listSchemas)
		r.Get("/schemas/{name}", h.getSchema)
		r.Get("/audit", h.listAudit)

		r.Route("/data/{schema}", func(r chi.Router) {
			r.Post("/", h.create)
			r.Post("/bulk", h.createBatch)
			r.Post("/query", h.query)
			r.Post("/count", h.count)
			r.Post("/stream", h.stream)
			r.Get("/{id}", h.getByID)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	h.writeJSON(w, r, status, map[string]interface{}{
		"code":    status,
		"message": publicMessage(err),
	})
}

// decodeBody reads a JSON request body into v with unknown-field leniency;
// payload shape violations surface as validation errors.
func (h *Handler) decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation("malformed JSON body: %v", err)
	}
	return nil
}
