package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/extract"
	"github.com/hairizuan-noorazman/spahost/lock"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/storage"
)

const (
	defaultLockTimeout   = 10 * time.Second
	defaultStagingMaxAge = time.Hour
)

// Config tunes the coordinator.
type Config struct {
	// RetainVersions is the number of prior versions kept after each
	// promotion. Zero disables automatic pruning.
	RetainVersions int
	// LockTimeout bounds the wait for the per-slug lock.
	LockTimeout time.Duration
	// DeleteGracePeriod delays file removal after a project is marked
	// deleting so in-flight reads can finish.
	DeleteGracePeriod time.Duration
	// StagingMaxAge is the age after which Recover treats a staging
	// directory as abandoned.
	StagingMaxAge time.Duration
}

// Deps are the collaborators of a Coordinator. Mirror and Metrics are optional.
type Deps struct {
	Validator *archive.Validator
	Extractor *extract.Extractor
	Tree      *storage.Tree
	Store     project.Store
	Locker    lock.Locker
	Mirror    storage.BlobStorage
	Metrics   metrics.Metrics
	Logger    logger.Logger
}

// Coordinator is the only writer of project files and metadata.
type Coordinator struct {
	validator *archive.Validator
	extractor *extract.Extractor
	tree      *storage.Tree
	store     project.Store
	locker    lock.Locker
	mirror    storage.BlobStorage
	metrics   metrics.Metrics
	logger    logger.Logger
	cfg       Config
}

// NewCoordinator wires a coordinator from its dependencies.
func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.StagingMaxAge <= 0 {
		cfg.StagingMaxAge = defaultStagingMaxAge
	}
	if cfg.RetainVersions < 0 {
		cfg.RetainVersions = 0
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &Coordinator{
		validator: deps.Validator,
		extractor: deps.Extractor,
		tree:      deps.Tree,
		store:     deps.Store,
		locker:    deps.Locker,
		mirror:    deps.Mirror,
		metrics:   m,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// UploadRequest is one archive upload.
type UploadRequest struct {
	Slug        string
	DisplayName string
	Archive     io.Reader
	// CreateOnly rejects the upload with ErrSlugConflict if the slug
	// already has a promoted version.
	CreateOnly bool
}

// UploadResult describes the project after an upload.
type UploadResult struct {
	Project *project.Project
	// Created is true when the upload created the slug.
	Created bool
	// Unchanged is true when the archive matched the current version.
	Unchanged bool
}

// Upload validates, extracts and promotes an archive for req.Slug.
// Any failure leaves the previously promoted version untouched and removes
// every directory and pending slot the upload created.
func (c *Coordinator) Upload(ctx context.Context, req UploadRequest) (res *UploadResult, err error) {
	const op = "upload"
	start := time.Now()
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"slug": req.Slug, "op": op})
	defer func() {
		c.metrics.ObserveUpload(Outcome(err), time.Since(start).Seconds())
		c.logResult(ctx, "upload", err)
	}()

	if err := project.ValidateSlug(req.Slug); err != nil {
		return nil, newError(ErrValidation, op, req.Slug, err)
	}
	if req.Archive == nil {
		return nil, newError(ErrValidation, op, req.Slug, archive.ErrEmptyArchive)
	}

	a, err := c.validator.Validate(ctx, req.Archive)
	if err != nil {
		if archive.IsValidationError(err) {
			return nil, newError(ErrValidation, op, req.Slug, err)
		}
		return nil, newError(ErrExtraction, op, req.Slug, err)
	}

	release, err := c.acquire(ctx, op, req.Slug)
	if err != nil {
		return nil, err
	}
	defer release()

	var undo []func(context.Context)
	defer func() {
		if err == nil {
			return
		}
		cleanupCtx := context.WithoutCancel(ctx)
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](cleanupCtx)
		}
	}()

	slot, created, err := c.store.CreateOrGetSlot(ctx, req.Slug, req.DisplayName)
	if err != nil {
		return nil, c.storeError(op, req.Slug, err)
	}
	if created {
		undo = append(undo, func(ctx context.Context) {
			if err := c.store.DiscardSlot(ctx, req.Slug); err != nil {
				c.logger.Error(ctx, "failed to discard pending slot", map[string]interface{}{"error": err.Error()})
			}
		})
	}
	if slot.Status == project.StatusDeleting {
		return nil, newError(ErrStore, op, req.Slug, project.ErrProjectDeleting)
	}
	if req.CreateOnly && slot.Promoted() {
		return nil, newError(ErrSlugConflict, op, req.Slug, nil)
	}

	repair := slot.CurrentVersion == a.Digest && slot.Status == project.StatusError
	if slot.CurrentVersion == a.Digest && !repair {
		c.logger.Info(ctx, "archive matches current version", map[string]interface{}{"version": a.Digest})
		return &UploadResult{Project: slot, Unchanged: true}, nil
	}

	finalDir, err := c.tree.VersionDir(req.Slug, a.Digest)
	if err != nil {
		return nil, newError(ErrValidation, op, req.Slug, err)
	}
	params := project.PromoteParams{
		Version:     a.Digest,
		StoragePath: finalDir,
		EntryPoint:  a.EntryPoint,
		SizeBytes:   a.UncompressedSize,
		FileCount:   a.FileCount,
	}

	if !c.tree.Exists(finalDir) {
		loc, err := c.extractor.Extract(ctx, a)
		if err != nil {
			return nil, newError(ErrExtraction, op, req.Slug, err)
		}
		params.SizeBytes, params.FileCount = loc.SizeBytes, loc.FileCount

		placed, err := c.tree.Promote(loc.StagingDir, req.Slug, a.Digest)
		switch {
		case errors.Is(err, storage.ErrVersionExists):
			c.discardStaging(ctx, loc.StagingDir)
		case err != nil:
			c.discardStaging(ctx, loc.StagingDir)
			return nil, newError(ErrExtraction, op, req.Slug, err)
		default:
			undo = append(undo, func(ctx context.Context) {
				if err := c.tree.RemoveVersion(req.Slug, a.Digest); err != nil {
					c.logger.Error(ctx, "failed to remove unpromoted version", map[string]interface{}{
						"path":  placed,
						"error": err.Error(),
					})
				}
			})
		}
	}

	var p *project.Project
	if repair {
		p, err = c.store.SetStatus(ctx, req.Slug, project.StatusActive)
	} else {
		p, err = c.store.Promote(ctx, req.Slug, slot.CurrentVersion, params)
	}
	if err != nil {
		return nil, c.storeError(op, req.Slug, err)
	}

	c.logger.Info(ctx, "version promoted", map[string]interface{}{
		"version":          p.CurrentVersion,
		"previous_version": slot.CurrentVersion,
		"files":            p.FileCount,
		"bytes":            p.SizeBytes,
	})

	if c.cfg.RetainVersions > 0 {
		if _, err := c.prune(ctx, req.Slug, c.cfg.RetainVersions); err != nil {
			c.logger.Warn(ctx, "retention prune failed", map[string]interface{}{"error": err.Error()})
		}
	}
	c.mirrorArchive(ctx, req.Slug, a)

	return &UploadResult{Project: p, Created: created}, nil
}

// Delete marks slug deleting, removes every version from disk after the
// grace period and then purges the metadata. Once the marker is written the
// delete runs to completion even if ctx is cancelled.
func (c *Coordinator) Delete(ctx context.Context, slug string) (err error) {
	const op = "delete"
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"slug": slug, "op": op})
	defer func() {
		c.metrics.IncDelete(Outcome(err))
		c.logResult(ctx, "delete", err)
	}()

	if err := project.ValidateSlug(slug); err != nil {
		return newError(ErrValidation, op, slug, err)
	}

	release, err := c.acquire(ctx, op, slug)
	if err != nil {
		return err
	}
	defer release()

	p, err := c.store.MarkDeleting(ctx, slug)
	if err != nil {
		return c.storeError(op, slug, err)
	}

	return c.finishDelete(context.WithoutCancel(ctx), p, c.cfg.DeleteGracePeriod)
}

func (c *Coordinator) finishDelete(ctx context.Context, p *project.Project, grace time.Duration) error {
	const op = "delete"

	versions := []string{}
	if p.Promoted() {
		versions = append(versions, p.CurrentVersion)
	}
	// Nothing is removed until every mirrored version is known. On failure
	// the project stays deleting and Recover finishes it.
	history, err := c.store.ListHistory(ctx, p.Slug)
	if err != nil {
		return c.storeError(op, p.Slug, err)
	}
	for _, h := range history {
		versions = append(versions, h.Version)
	}

	if grace > 0 {
		c.logger.Debug(ctx, "waiting for delete grace period", map[string]interface{}{"grace": grace.String()})
		time.Sleep(grace)
	}

	if err := c.tree.RemoveProject(p.Slug); err != nil {
		return newError(ErrExtraction, op, p.Slug, err)
	}
	c.deleteMirrored(ctx, p.Slug, versions)

	if err := c.store.Purge(ctx, p.Slug); err != nil {
		return c.storeError(op, p.Slug, err)
	}
	c.logger.Info(ctx, "project deleted", map[string]interface{}{"versions": len(versions)})
	return nil
}

// SetStatus activates or deactivates a promoted project.
func (c *Coordinator) SetStatus(ctx context.Context, slug string, status project.Status) (p *project.Project, err error) {
	const op = "set_status"
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"slug": slug, "op": op})
	defer func() { c.logResult(ctx, "set status", err) }()

	if err := project.ValidateSlug(slug); err != nil {
		return nil, newError(ErrValidation, op, slug, err)
	}

	release, err := c.acquire(ctx, op, slug)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err = c.store.SetStatus(ctx, slug, status)
	if err != nil {
		return nil, c.storeError(op, slug, err)
	}
	return p, nil
}

// UpdateDisplayName changes the human label of slug.
func (c *Coordinator) UpdateDisplayName(ctx context.Context, slug, name string) (*project.Project, error) {
	const op = "update"
	if err := project.ValidateSlug(slug); err != nil {
		return nil, newError(ErrValidation, op, slug, err)
	}
	p, err := c.store.Update(ctx, slug, project.SetDisplayName(name))
	if err != nil {
		return nil, c.storeError(op, slug, err)
	}
	return p, nil
}

// Rollback re-promotes a retained version of slug.
func (c *Coordinator) Rollback(ctx context.Context, slug, version string) (p *project.Project, err error) {
	const op = "rollback"
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"slug": slug, "op": op})
	defer func() { c.logResult(ctx, "rollback", err) }()

	if err := project.ValidateSlug(slug); err != nil {
		return nil, newError(ErrValidation, op, slug, err)
	}
	if version == "" {
		return nil, newError(ErrValidation, op, slug, project.ErrVersionNotFound)
	}

	release, err := c.acquire(ctx, op, slug)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := c.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, c.storeError(op, slug, err)
	}
	if current.CurrentVersion == version {
		return current, nil
	}

	entry, err := c.store.GetHistoryVersion(ctx, slug, version)
	if err != nil {
		return nil, c.storeError(op, slug, err)
	}
	if !c.tree.Exists(entry.StoragePath) {
		return nil, newError(ErrNotFound, op, slug, project.ErrVersionNotFound)
	}

	p, err = c.store.Promote(ctx, slug, current.CurrentVersion, project.PromoteParams{
		Version:     entry.Version,
		StoragePath: entry.StoragePath,
		EntryPoint:  entry.EntryPoint,
		SizeBytes:   entry.SizeBytes,
		FileCount:   entry.FileCount,
	})
	if err != nil {
		return nil, c.storeError(op, slug, err)
	}
	return p, nil
}

// Prune keeps the keep most recent prior versions of slug and removes the
// files of every other non-current version.
func (c *Coordinator) Prune(ctx context.Context, slug string, keep int) (removed []string, err error) {
	const op = "prune"
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"slug": slug, "op": op})
	defer func() { c.logResult(ctx, "prune", err) }()

	if err := project.ValidateSlug(slug); err != nil {
		return nil, newError(ErrValidation, op, slug, err)
	}
	if keep < 0 {
		return nil, newError(ErrValidation, op, slug, errors.New("keep must not be negative"))
	}

	release, err := c.acquire(ctx, op, slug)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.prune(ctx, slug, keep)
}

func (c *Coordinator) prune(ctx context.Context, slug string, keep int) ([]string, error) {
	removed, err := c.store.PruneHistory(ctx, slug, keep)
	if err != nil {
		return nil, c.storeError("prune", slug, err)
	}
	for _, v := range removed {
		if err := c.tree.RemoveVersion(slug, v); err != nil {
			c.logger.Warn(ctx, "failed to remove pruned version", map[string]interface{}{
				"version": v,
				"error":   err.Error(),
			})
		}
	}
	c.deleteMirrored(ctx, slug, removed)
	c.metrics.AddPruned(len(removed))
	return removed, nil
}

func (c *Coordinator) acquire(ctx context.Context, op, slug string) (lock.Release, error) {
	release, err := c.locker.Acquire(ctx, slug, c.cfg.LockTimeout)
	if err != nil {
		return nil, newError(ErrLockTimeout, op, slug, err)
	}
	return release, nil
}

func (c *Coordinator) storeError(op, slug string, err error) error {
	switch {
	case errors.Is(err, project.ErrProjectNotFound), errors.Is(err, project.ErrVersionNotFound):
		return newError(ErrNotFound, op, slug, err)
	case errors.Is(err, project.ErrInvalidSlug),
		errors.Is(err, project.ErrInvalidStatus),
		errors.Is(err, project.ErrInvalidTransition),
		errors.Is(err, project.ErrInvalidDisplayName):
		return newError(ErrValidation, op, slug, err)
	default:
		return newError(ErrStore, op, slug, err)
	}
}

func (c *Coordinator) discardStaging(ctx context.Context, dir string) {
	if err := c.tree.Discard(dir); err != nil {
		c.logger.Error(ctx, "failed to discard staging directory", map[string]interface{}{
			"staging_dir": dir,
			"error":       err.Error(),
		})
	}
}

func (c *Coordinator) mirrorArchive(ctx context.Context, slug string, a *archive.Archive) {
	if c.mirror == nil {
		return
	}
	key := storage.ArchiveKey(slug, a.Digest)
	if err := c.mirror.Upload(ctx, key, bytes.NewReader(a.Bytes())); err != nil {
		c.metrics.IncMirrorFailure("upload")
		c.logger.Warn(ctx, "failed to mirror archive", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (c *Coordinator) deleteMirrored(ctx context.Context, slug string, versions []string) {
	if c.mirror == nil {
		return
	}
	for _, v := range versions {
		key := storage.ArchiveKey(slug, v)
		if err := c.mirror.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
			c.metrics.IncMirrorFailure("delete")
			c.logger.Warn(ctx, "failed to delete mirrored archive", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

func (c *Coordinator) logResult(ctx context.Context, what string, err error) {
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"error":     err.Error(),
		"outcome":   Outcome(err),
		"retryable": Retryable(err),
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrSlugConflict) {
		c.logger.Info(ctx, what+" rejected", fields)
		return
	}
	c.logger.Error(ctx, what+" failed", fields)
}
