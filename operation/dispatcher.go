package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

// Coordinator is the write side the dispatcher drives.
type Coordinator interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*ingest.UploadResult, error)
	Delete(ctx context.Context, slug string) error
	SetStatus(ctx context.Context, slug string, status project.Status) (*project.Project, error)
	UpdateDisplayName(ctx context.Context, slug, name string) (*project.Project, error)
	Rollback(ctx context.Context, slug, version string) (*project.Project, error)
	Prune(ctx context.Context, slug string, keep int) ([]string, error)
}

// Resolver is the read side the dispatcher drives.
type Resolver interface {
	Resolve(ctx context.Context, slug string) (*resolver.Resolved, error)
}

// Result is the outcome of a dispatched operation. Only the fields relevant
// to the operation kind are set.
type Result struct {
	Kind      Kind
	Slug      string
	Project   *project.Project
	Created   bool
	Unchanged bool
	Removed   []string
	Resolved  *resolver.Resolved
}

// Dispatcher routes typed operations to the coordinator and resolver.
type Dispatcher struct {
	coordinator Coordinator
	resolver    Resolver
	logger      logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(c Coordinator, r Resolver, log logger.Logger) *Dispatcher {
	return &Dispatcher{coordinator: c, resolver: r, logger: log}
}

// Dispatch runs op and returns its result. Errors are passed through
// unchanged so callers can classify them with errors.Is.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation) (*Result, error) {
	if op == nil {
		return nil, ErrUnknownOperation
	}
	start := time.Now()
	res := &Result{Kind: op.Kind(), Slug: op.Target()}

	var err error
	switch o := op.(type) {
	case Upload:
		var up *ingest.UploadResult
		up, err = d.coordinator.Upload(ctx, ingest.UploadRequest{
			Slug:        o.Slug,
			DisplayName: o.DisplayName,
			Archive:     o.Archive,
			CreateOnly:  o.CreateOnly,
		})
		if up != nil {
			res.Project, res.Created, res.Unchanged = up.Project, up.Created, up.Unchanged
		}
	case Delete:
		err = d.coordinator.Delete(ctx, o.Slug)
	case SetStatus:
		res.Project, err = d.coordinator.SetStatus(ctx, o.Slug, o.Status)
	case Rename:
		res.Project, err = d.coordinator.UpdateDisplayName(ctx, o.Slug, o.DisplayName)
	case Rollback:
		res.Project, err = d.coordinator.Rollback(ctx, o.Slug, o.Version)
	case Prune:
		res.Removed, err = d.coordinator.Prune(ctx, o.Slug, o.Keep)
	case Resolve:
		res.Resolved, err = d.resolver.Resolve(ctx, o.Slug)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}

	if op.Kind().Mutates() {
		d.logger.Debug(ctx, "operation dispatched", map[string]interface{}{
			"kind":        string(op.Kind()),
			"slug":        op.Target(),
			"duration_ms": time.Since(start).Milliseconds(),
			"outcome":     ingest.Outcome(err),
		})
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
