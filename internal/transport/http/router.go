package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestScope)
	r.Use(recovery(h.logger))
	r.Use(requestLogger(h.logger))

	r.Post("/credentials", h.requireToken(h.handleIssueCredential))
	r.Post("/nonce", h.requireToken(h.handleMintNonce))

	r.Get("/status-lists/{id}", h.handleGetStatusList)
	r.Post("/status-lists/{id}/revoke", h.requireToken(h.handleRevoke))
	r.Post("/status/transactions", h.requireToken(h.handleAppendTransactions))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
