package resolver

import (
	"context"
	"errors"
)

// Embed reasons reported when Found is false.
const (
	ReasonNotFound    = "not_found"
	ReasonInactive    = "inactive"
	ReasonUnavailable = "unavailable"
)

// Embed is the transport form of a resolve result, consumed by whatever
// renders the host page around the application.
type Embed struct {
	Found          bool   `json:"found"`
	Reason         string `json:"reason,omitempty"`
	Slug           string `json:"slug"`
	DisplayName    string `json:"display_name,omitempty"`
	Version        string `json:"version,omitempty"`
	StoragePath    string `json:"storage_path,omitempty"`
	EntryPoint     string `json:"entry_point,omitempty"`
	EntryPointPath string `json:"entry_point_path,omitempty"`
}

// Embed resolves slug and never fails; the outcome is carried in the result.
func (r *Resolver) Embed(ctx context.Context, slug string) Embed {
	res, err := r.Resolve(ctx, slug)
	switch {
	case err == nil:
		return Embed{
			Found:          true,
			Slug:           res.Slug,
			DisplayName:    res.DisplayName,
			Version:        res.Version,
			StoragePath:    res.StoragePath,
			EntryPoint:     res.EntryPoint,
			EntryPointPath: res.EntryPointPath(),
		}
	case errors.Is(err, ErrNotFound):
		return Embed{Slug: slug, Reason: ReasonNotFound}
	case errors.Is(err, ErrInactive):
		return Embed{Slug: slug, Reason: ReasonInactive}
	default:
		return Embed{Slug: slug, Reason: ReasonUnavailable}
	}
}
