package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/project"
)

var (
	// ErrNotFound is returned for unknown slugs and for projects that have no
	// promoted version or are being deleted.
	ErrNotFound = errors.New("project not found")

	// ErrInactive is returned for promoted projects that are switched off or
	// flagged as broken.
	ErrInactive = errors.New("project inactive")
)

// Store is the read side of the project store used by the resolver.
type Store interface {
	GetActive(ctx context.Context, slug string) (*project.Project, error)
}

// Resolved is the promoted version a slug currently points to.
type Resolved struct {
	Slug        string
	DisplayName string
	Version     string
	StoragePath string
	EntryPoint  string
	SizeBytes   int64
	FileCount   int
	PromotedAt  *time.Time
}

// EntryPointPath is the absolute path of the entry point file.
func (r *Resolved) EntryPointPath() string {
	return filepath.Join(r.StoragePath, filepath.FromSlash(r.EntryPoint))
}

// Resolver maps slugs to the directory of their active version. It only
// reads committed metadata and never waits on upload locks.
type Resolver struct {
	store   Store
	metrics metrics.Metrics
	logger  logger.Logger
	group   singleflight.Group
}

// New creates a resolver. m may be nil.
func New(store Store, m metrics.Metrics, log logger.Logger) *Resolver {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Resolver{store: store, metrics: m, logger: log}
}

// Resolve returns the active version of slug. Concurrent calls for the same
// slug share a single store read.
func (r *Resolver) Resolve(ctx context.Context, slug string) (res *Resolved, err error) {
	defer func() { r.metrics.IncResolve(outcome(err)) }()

	if err := project.ValidateSlug(slug); err != nil {
		return nil, ErrNotFound
	}

	ch := r.group.DoChan(slug, func() (interface{}, error) {
		return r.store.GetActive(context.WithoutCancel(ctx), slug)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result = <-ch:
	}

	if result.Err != nil {
		if errors.Is(result.Err, project.ErrProjectNotFound) {
			return nil, ErrNotFound
		}
		r.logger.Error(ctx, "failed to resolve project", map[string]interface{}{
			"slug":  slug,
			"error": result.Err.Error(),
		})
		return nil, fmt.Errorf("resolve %s: %w", slug, result.Err)
	}

	p := result.Val.(*project.Project)
	switch p.Status {
	case project.StatusActive:
	case project.StatusInactive, project.StatusError:
		return nil, ErrInactive
	default:
		return nil, ErrNotFound
	}

	return &Resolved{
		Slug:        p.Slug,
		DisplayName: p.DisplayName,
		Version:     p.CurrentVersion,
		StoragePath: p.StoragePath,
		EntryPoint:  p.EntryPoint,
		SizeBytes:   p.SizeBytes,
		FileCount:   p.FileCount,
		PromotedAt:  p.PromotedAt,
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
