package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/operation"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

// AppsPrefix is the mount point of the static file routes.
const AppsPrefix = "/apps"

// RouterConfig holds the collaborators of the HTTP surface.
type RouterConfig struct {
	Dispatcher     *operation.Dispatcher
	ProjectStore   project.Store
	Resolver       *resolver.Resolver
	Metrics        metrics.Metrics
	MetricsHandler http.Handler
	DB             Pinger
	MaxUploadBytes int64
	Logger         logger.Logger
}

// NewRouter wires every route.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(NewRequestMiddleware(cfg.Metrics, cfg.Logger).Handler)

	router.HandleFunc("/health", HealthHandler).Methods("GET")
	if cfg.DB != nil {
		router.HandleFunc("/ready", ReadyHandler(cfg.DB)).Methods("GET")
	}
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler).Methods("GET")
	}

	projectHandler := NewProjectHandler(cfg.Dispatcher, cfg.ProjectStore, cfg.MaxUploadBytes, cfg.Logger)
	embedHandler := NewEmbedHandler(cfg.Resolver, cfg.Logger)
	staticHandler := NewStaticHandler(cfg.Resolver, AppsPrefix, cfg.Logger)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/projects", projectHandler.Upload).Methods("POST")
	api.HandleFunc("/projects", projectHandler.List).Methods("GET")
	api.HandleFunc("/projects/{slug}", projectHandler.Get).Methods("GET")
	api.HandleFunc("/projects/{slug}", projectHandler.Update).Methods("PUT")
	api.HandleFunc("/projects/{slug}", projectHandler.Delete).Methods("DELETE")
	api.HandleFunc("/projects/{slug}/status", projectHandler.SetStatus).Methods("PUT")
	api.HandleFunc("/projects/{slug}/rollback", projectHandler.Rollback).Methods("POST")
	api.HandleFunc("/projects/{slug}/prune", projectHandler.Prune).Methods("POST")
	api.HandleFunc("/embed/{slug}", embedHandler.Get).Methods("GET")

	router.HandleFunc(AppsPrefix+"/{slug}", staticHandler.Redirect).Methods("GET", "HEAD")
	router.HandleFunc(AppsPrefix+"/{slug}/{path:.*}", staticHandler.Serve).Methods("GET", "HEAD")

	return router
}
