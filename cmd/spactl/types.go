package main

import (
	"time"

	"github.com/google/uuid"
)

// PaginatedResponse matches handlers.PaginatedResponse.
type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorResponse matches handlers.ErrorResponse.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// SuccessResponse matches handlers.SuccessResponse.
type SuccessResponse struct {
	Message string `json:"message"`
}

// UploadRequest holds the form fields of an upload.
type UploadRequest struct {
	Slug        string
	DisplayName string
	CreateOnly  bool
}

// Project matches project.Project.
type Project struct {
	ID             uuid.UUID  `json:"id"`
	Slug           string     `json:"slug"`
	DisplayName    string     `json:"display_name"`
	Status         string     `json:"status"`
	CurrentVersion string     `json:"current_version"`
	StoragePath    string     `json:"storage_path"`
	EntryPoint     string     `json:"entry_point"`
	SizeBytes      int64      `json:"size_bytes"`
	FileCount      int        `json:"file_count"`
	PromotedAt     *time.Time `json:"promoted_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HistoryEntry matches project.HistoryEntry.
type HistoryEntry struct {
	Version      string    `json:"version"`
	SizeBytes    int64     `json:"size_bytes"`
	FileCount    int       `json:"file_count"`
	SupersededAt time.Time `json:"superseded_at"`
}

// ProjectResponse matches handlers.ProjectResponse.
type ProjectResponse struct {
	Project
	History []HistoryEntry `json:"history"`
}

// UploadResponse matches handlers.UploadResponse.
type UploadResponse struct {
	Project   Project `json:"project"`
	Created   bool    `json:"created"`
	Unchanged bool    `json:"unchanged"`
}

// UpdateProjectRequest matches handlers.UpdateProjectRequest.
type UpdateProjectRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
}

// SetStatusRequest matches handlers.SetStatusRequest.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// RollbackRequest matches handlers.RollbackRequest.
type RollbackRequest struct {
	Version string `json:"version"`
}

// PruneRequest matches handlers.PruneRequest.
type PruneRequest struct {
	Keep int `json:"keep"`
}

// PruneResponse matches handlers.PruneResponse.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

// EmbedResponse matches resolver.Embed.
type EmbedResponse struct {
	Found          bool   `json:"found"`
	Reason         string `json:"reason,omitempty"`
	Slug           string `json:"slug"`
	DisplayName    string `json:"display_name,omitempty"`
	Version        string `json:"version,omitempty"`
	EntryPoint     string `json:"entry_point,omitempty"`
	EntryPointPath string `json:"entry_point_path,omitempty"`
}
