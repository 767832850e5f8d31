package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

// retryAfterSeconds is advertised on responses for retryable failures.
const retryAfterSeconds = 5

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// SuccessResponse represents a success response with a message.
type SuccessResponse struct {
	Message string `json:"message"`
}

// PaginatedResponse represents a standardized paginated API response.
type PaginatedResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// NewPaginatedResponse creates a new paginated response.
func NewPaginatedResponse(items interface{}, total, limit, offset int) PaginatedResponse {
	return PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondSuccess writes a success response with the given message.
func respondSuccess(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, SuccessResponse{Message: message})
}

// parseJSON parses JSON from the request body into the given destination.
func parseJSON(r *http.Request, dest interface{}, log logger.Logger) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Warn(r.Context(), "failed to parse JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// slugOrRespond reads the slug path parameter and responds with 400 if it is
// malformed. Returns false if a response was already sent.
func slugOrRespond(w http.ResponseWriter, r *http.Request) (string, bool) {
	slug := mux.Vars(r)["slug"]
	if err := project.ValidateSlug(slug); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return slug, true
}

// statusForError maps pipeline errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, archive.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, project.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrSlugConflict), errors.Is(err, project.ErrProjectDeleting):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrNotFound), errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrInactive):
		return http.StatusGone
	case errors.Is(err, ingest.ErrLockTimeout), errors.Is(err, ingest.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondOperationError writes the response for a failed operation. Client
// errors carry the error text; server errors are logged and answered with a
// generic message.
func respondOperationError(w http.ResponseWriter, r *http.Request, log logger.Logger, what string, err error) {
	status := statusForError(err)
	retryable := ingest.Retryable(err)
	if retryable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if status < http.StatusInternalServerError {
		respondJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	log.Error(r.Context(), "failed to "+what, map[string]interface{}{
		"error":     err.Error(),
		"retryable": retryable,
	})
	respondJSON(w, status, ErrorResponse{Error: "failed to " + what, Retryable: retryable})
}
