package project

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxSlugLength = 64

var (
	// ErrProjectNotFound is returned when a project is not found.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidSlug is returned when a slug is empty, too long or contains
	// characters outside [a-z0-9-].
	ErrInvalidSlug = errors.New("slug must match [a-z0-9-]+ and be at most 64 characters")

	// ErrInvalidDisplayName is returned when a display name is empty.
	ErrInvalidDisplayName = errors.New("display name is required")

	// ErrConcurrentModification is returned when a promotion's expected version
	// no longer matches the stored one.
	ErrConcurrentModification = errors.New("project was modified concurrently")

	// ErrInvalidStatus is returned for unknown or disallowed status values.
	ErrInvalidStatus = errors.New("invalid project status")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the project's current state.
	ErrInvalidTransition = errors.New("status change not allowed in current state")

	// ErrProjectDeleting is returned when a project is being deleted.
	ErrProjectDeleting = errors.New("project is being deleted")

	// ErrVersionNotFound is returned when a version is not retained for a project.
	ErrVersionNotFound = errors.New("version not found")

	// ErrInvalidPromotion is returned when promotion parameters are incomplete.
	ErrInvalidPromotion = errors.New("version, storage path and entry point are required")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Status is the lifecycle state of a project.
type Status string

const (
	// StatusPending marks a slot that has never been promoted.
	StatusPending Status = "pending"
	// StatusActive projects are served.
	StatusActive Status = "active"
	// StatusInactive projects keep their files but are not served.
	StatusInactive Status = "inactive"
	// StatusError marks projects whose storage is unusable.
	StatusError Status = "error"
	// StatusDeleting marks projects whose files are being removed.
	StatusDeleting Status = "deleting"
)

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusActive, StatusInactive, StatusError, StatusDeleting:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Project maps a slug to its currently promoted version.
type Project struct {
	ID             uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Slug           string     `json:"slug" gorm:"type:varchar(64);uniqueIndex:idx_projects_slug;not null"`
	DisplayName    string     `json:"display_name" gorm:"type:varchar(255);not null"`
	CurrentVersion string     `json:"current_version" gorm:"type:varchar(128);not null;default:''"`
	Status         Status     `json:"status" gorm:"type:varchar(16);not null;index:idx_projects_status"`
	StoragePath    string     `json:"storage_path" gorm:"type:varchar(1024);not null;default:''"`
	EntryPoint     string     `json:"entry_point" gorm:"type:varchar(255);not null;default:''"`
	SizeBytes      int64      `json:"size_bytes" gorm:"not null;default:0"`
	FileCount      int        `json:"file_count" gorm:"not null;default:0"`
	PromotedAt     *time.Time `json:"promoted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID to new rows.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Validate checks if the project has valid required fields.
func (p *Project) Validate() error {
	if err := ValidateSlug(p.Slug); err != nil {
		return err
	}
	if p.DisplayName == "" {
		return ErrInvalidDisplayName
	}
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	return nil
}

// Promoted reports whether the project has ever had a version promoted.
func (p *Project) Promoted() bool {
	return p.CurrentVersion != ""
}

// HistoryEntry records a version that was superseded by a promotion.
type HistoryEntry struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ProjectID    uuid.UUID  `json:"project_id" gorm:"type:char(36);not null;index:idx_project_history_project"`
	Version      string     `json:"version" gorm:"type:varchar(128);not null"`
	StoragePath  string     `json:"storage_path" gorm:"type:varchar(1024);not null"`
	EntryPoint   string     `json:"entry_point" gorm:"type:varchar(255);not null"`
	SizeBytes    int64      `json:"size_bytes" gorm:"not null;default:0"`
	FileCount    int        `json:"file_count" gorm:"not null;default:0"`
	PromotedAt   *time.Time `json:"promoted_at,omitempty"`
	SupersededAt time.Time  `json:"superseded_at"`
}

// TableName overrides the default table name.
func (HistoryEntry) TableName() string {
	return "project_history"
}

// PromoteParams describes the version being promoted.
type PromoteParams struct {
	Version     string
	StoragePath string
	EntryPoint  string
	SizeBytes   int64
	FileCount   int
}

// Validate checks that the promotion carries a version and a location.
func (p PromoteParams) Validate() error {
	if p.Version == "" || p.StoragePath == "" || p.EntryPoint == "" {
		return ErrInvalidPromotion
	}
	return nil
}

// ValidateSlug checks that slug is a non-empty [a-z0-9-]+ string of at most 64 characters.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}
