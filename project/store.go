package project

import (
	"context"
)

// Store is the single authority over project metadata. No other component
// writes project rows.
type Store interface {
	// CreateOrGetSlot returns the row for slug, creating a pending one if
	// none exists. The boolean reports whether the row was created.
	CreateOrGetSlot(ctx context.Context, slug, displayName string) (*Project, bool, error)

	// Promote makes params the current version of slug if the stored
	// current version still equals expectedVersion. The superseded version
	// is appended to the project's history.
	Promote(ctx context.Context, slug, expectedVersion string, params PromoteParams) (*Project, error)

	// GetActive returns the promoted project for slug. Slots that were never
	// promoted are reported as ErrProjectNotFound.
	GetActive(ctx context.Context, slug string) (*Project, error)

	// GetBySlug returns the row for slug in any state.
	GetBySlug(ctx context.Context, slug string) (*Project, error)

	// SetStatus toggles a promoted project between active, inactive and error.
	SetStatus(ctx context.Context, slug string, status Status) (*Project, error)

	// Update applies setters to the mutable metadata of slug.
	Update(ctx context.Context, slug string, setters ...UpdateSetter) (*Project, error)

	// MarkDeleting flags slug as being deleted so readers stop resolving it.
	MarkDeleting(ctx context.Context, slug string) (*Project, error)

	// Purge removes a project marked deleting together with its history.
	Purge(ctx context.Context, slug string) error

	// DiscardSlot removes a pending slot that was never promoted.
	DiscardSlot(ctx context.Context, slug string) error

	// List returns projects matching filter.
	List(ctx context.Context, filter Filter) ([]*Project, error)

	// Count returns the number of projects matching filter, ignoring paging.
	Count(ctx context.Context, filter Filter) (int, error)

	// ListHistory returns superseded versions of slug, newest first.
	ListHistory(ctx context.Context, slug string) ([]*HistoryEntry, error)

	// GetHistoryVersion returns the newest history entry of slug for version.
	GetHistoryVersion(ctx context.Context, slug, version string) (*HistoryEntry, error)

	// PruneHistory keeps the keep most recent distinct prior versions of slug
	// and deletes the history of every other version except the current one.
	// It returns the versions that are no longer referenced.
	PruneHistory(ctx context.Context, slug string, keep int) ([]string, error)
}

// UpdateSetter is a function that updates a project field.
type UpdateSetter func(*Project) error

// Order selects the sort column of a listing.
type Order string

const (
	OrderName    Order = "name"
	OrderCreated Order = "created"
	OrderUpdated Order = "updated"
)

// Filter narrows and pages a listing. Zero values mean no restriction.
type Filter struct {
	Status Status
	// Query matches slug or display name as a substring.
	Query  string
	Order  Order
	Desc   bool
	Limit  int
	Offset int
}
