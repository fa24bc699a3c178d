package router

import (
	"net/http"

	"github.com/AnkitKoranga/guardrail/internal/handlers"
	"github.com/AnkitKoranga/guardrail/internal/middleware"
)

// Router manages HTTP routing for the job API
type Router struct {
	api *handlers.API
}

// New creates a new router instance
func New(api *handlers.API) *Router {
	return &Router{api: api}
}

// Handler returns the fully wired HTTP handler
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/generate", r.api.Generate)
	mux.HandleFunc("/v1/requests/", r.api.Status)
	mux.HandleFunc("/healthz", r.api.Health)

	return middleware.ApplyChain(mux,
		middleware.Recovery,
		middleware.Logger,
	)
}
