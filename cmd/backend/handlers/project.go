package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/operation"
	"github.com/hairizuan-noorazman/spahost/project"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// multipartOverhead is the allowance for form fields and part headers on
	// top of the archive itself.
	multipartOverhead = 1 << 20
)

// ProjectHandler handles project-related requests.
type ProjectHandler struct {
	dispatcher     *operation.Dispatcher
	projectStore   project.Store
	maxUploadBytes int64
	logger         logger.Logger
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(dispatcher *operation.Dispatcher, projectStore project.Store, maxUploadBytes int64, log logger.Logger) *ProjectHandler {
	return &ProjectHandler{
		dispatcher:     dispatcher,
		projectStore:   projectStore,
		maxUploadBytes: maxUploadBytes,
		logger:         log,
	}
}

// UploadResponse represents the result of an upload.
type UploadResponse struct {
	Project   *project.Project `json:"project"`
	Created   bool             `json:"created"`
	Unchanged bool             `json:"unchanged"`
}

// ProjectResponse is a project together with its retained versions.
type ProjectResponse struct {
	*project.Project
	History []*project.HistoryEntry `json:"history"`
}

// UpdateProjectRequest represents a project update request.
type UpdateProjectRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
}

// SetStatusRequest represents a status change request.
type SetStatusRequest struct {
	Status project.Status `json:"status"`
}

// RollbackRequest represents a rollback request.
type RollbackRequest struct {
	Version string `json:"version"`
}

// PruneRequest represents a prune request.
type PruneRequest struct {
	Keep int `json:"keep"`
}

// PruneResponse lists the versions a prune removed.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

// Upload handles multipart archive uploads.
func (h *ProjectHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	slug := strings.TrimSpace(r.FormValue("slug"))
	if err := project.ValidateSlug(slug); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "archive file is required")
		return
	}
	defer file.Close()

	createOnly, _ := strconv.ParseBool(r.FormValue("create_only"))

	res, err := h.dispatcher.Dispatch(r.Context(), operation.Upload{
		Slug:        slug,
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Archive:     file,
		CreateOnly:  createOnly,
	})
	if err != nil {
		respondOperationError(w, r, h.logger, "upload archive", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, UploadResponse{
		Project:   res.Project,
		Created:   res.Created,
		Unchanged: res.Unchanged,
	})
}

// List handles listing projects with filtering and pagination.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultListLimit
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxListLimit {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	filter := project.Filter{
		Query:  strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	}
	if s := q.Get("status"); s != "" {
		status, err := project.ParseStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	switch order := project.Order(q.Get("order")); order {
	case "", project.OrderName, project.OrderCreated, project.OrderUpdated:
		filter.Order = order
	default:
		respondError(w, http.StatusBadRequest, "order must be one of name, created, updated")
		return
	}
	filter.Desc, _ = strconv.ParseBool(q.Get("desc"))

	projects, err := h.projectStore.List(r.Context(), filter)
	if err != nil {
		h.logger.Error(r.Context(), "failed to list projects", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	total, err := h.projectStore.Count(r.Context(), filter)
	if err != nil {
		h.logger.Error(r.Context(), "failed to count projects", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(projects, total, limit, offset))
}

// Get handles getting a single project with its history.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	proj, err := h.projectStore.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			respondError(w, http.StatusNotFound, "project not found")
			return
		}
		h.logger.Error(r.Context(), "failed to get project", map[string]interface{}{
			"error": err.Error(),
			"slug":  slug,
		})
		respondError(w, http.StatusInternalServerError, "failed to get project")
		return
	}

	history, err := h.projectStore.ListHistory(r.Context(), slug)
	if err != nil && !errors.Is(err, project.ErrProjectNotFound) {
		h.logger.Error(r.Context(), "failed to get project history", map[string]interface{}{
			"error": err.Error(),
			"slug":  slug,
		})
		respondError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	if history == nil {
		history = []*project.HistoryEntry{}
	}

	respondJSON(w, http.StatusOK, ProjectResponse{Project: proj, History: history})
}

// Update handles changing the display name of a project.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	var req UpdateProjectRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == nil {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), operation.Rename{Slug: slug, DisplayName: *req.DisplayName})
	if err != nil {
		respondOperationError(w, r, h.logger, "update project", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Project)
}

// SetStatus handles activating or deactivating a project.
func (h *ProjectHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case project.StatusActive, project.StatusInactive:
	default:
		respondError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), operation.SetStatus{Slug: slug, Status: req.Status})
	if err != nil {
		respondOperationError(w, r, h.logger, "set project status", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Project)
}

// Rollback handles re-promoting a retained version.
func (h *ProjectHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	var req RollbackRequest
	if err := parseJSON(r, &req, h.logger); err != nil || req.Version == "" {
		respondError(w, http.StatusBadRequest, "version is required")
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), operation.Rollback{Slug: slug, Version: req.Version})
	if err != nil {
		respondOperationError(w, r, h.logger, "roll back project", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Project)
}

// Prune handles removing old versions.
func (h *ProjectHandler) Prune(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	var req PruneRequest
	if err := parseJSON(r, &req, h.logger); err != nil || req.Keep < 0 {
		respondError(w, http.StatusBadRequest, "keep must be a non-negative integer")
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), operation.Prune{Slug: slug, Keep: req.Keep})
	if err != nil {
		respondOperationError(w, r, h.logger, "prune project", err)
		return
	}
	removed := res.Removed
	if removed == nil {
		removed = []string{}
	}
	respondJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

// Delete handles deleting a project and all its versions.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	slug, ok := slugOrRespond(w, r)
	if !ok {
		return
	}

	if _, err := h.dispatcher.Dispatch(r.Context(), operation.Delete{Slug: slug}); err != nil {
		respondOperationError(w, r, h.logger, "delete project", err)
		return
	}
	respondSuccess(w, "project deleted successfully")
}
