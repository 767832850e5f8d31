package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

// EmbedHandler exposes resolve results to page renderers.
type EmbedHandler struct {
	resolver *resolver.Resolver
	logger   logger.Logger
}

// NewEmbedHandler creates a new embed handler.
func NewEmbedHandler(r *resolver.Resolver, log logger.Logger) *EmbedHandler {
	return &EmbedHandler{resolver: r, logger: log}
}

// Get returns the embed descriptor of a slug.
func (h *EmbedHandler) Get(w http.ResponseWriter, r *http.Request) {
	embed := h.resolver.Embed(r.Context(), mux.Vars(r)["slug"])

	status := http.StatusOK
	switch embed.Reason {
	case resolver.ReasonNotFound:
		status = http.StatusNotFound
	case resolver.ReasonInactive:
		status = http.StatusGone
	case resolver.ReasonUnavailable:
		w.Header().Set("Retry-After", "5")
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, embed)
}
