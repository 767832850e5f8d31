package handlers

import (
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/resolver"
	"github.com/hairizuan-noorazman/spahost/storage"
)

// VersionHeader reports the version that served a static response.
const VersionHeader = "X-SPA-Version"

// StaticHandler serves the files of the active version of a project.
// Paths that match no file fall back to the entry point so client side
// routes work.
type StaticHandler struct {
	resolver *resolver.Resolver
	prefix   string
	logger   logger.Logger
}

// NewStaticHandler creates a static handler for routes mounted under prefix,
// e.g. "/apps".
func NewStaticHandler(r *resolver.Resolver, prefix string, log logger.Logger) *StaticHandler {
	return &StaticHandler{resolver: r, prefix: strings.TrimSuffix(prefix, "/"), logger: log}
}

// Redirect sends /apps/{slug} to /apps/{slug}/ so relative asset URLs resolve.
func (h *StaticHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.prefix+"/"+mux.Vars(r)["slug"]+"/", http.StatusMovedPermanently)
}

// Serve handles GET /apps/{slug}/{path}.
func (h *StaticHandler) Serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.resolver.Resolve(r.Context(), vars["slug"])
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrInactive):
			http.NotFound(w, r)
		default:
			w.Header().Set("Retry-After", "5")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	rel := strings.TrimPrefix(path.Clean("/"+vars["path"]), "/")
	if rel == "" {
		rel = res.EntryPoint
	}

	target, err := storage.SafeJoin(res.StoragePath, rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		if path.Ext(rel) != "" {
			http.NotFound(w, r)
			return
		}
		rel = res.EntryPoint
		target = res.EntryPointPath()
	}

	f, err := os.Open(target)
	if err != nil {
		// The version directory can vanish under a concurrent delete.
		h.logger.Warn(r.Context(), "failed to open static file", map[string]interface{}{
			"slug":  res.Slug,
			"path":  rel,
			"error": err.Error(),
		})
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err = f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set(VersionHeader, res.Version)
	if rel == res.EntryPoint {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=300")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
