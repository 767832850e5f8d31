package ingest

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/hairizuan-noorazman/spahost/lock"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/storage"
)

// RecoveryReport counts what a Recover pass repaired.
type RecoveryReport struct {
	StagingRemoved  int `json:"staging_removed"`
	TrashEmptied    int `json:"trash_emptied"`
	DeletesFinished int `json:"deletes_finished"`
	SlotsDiscarded  int `json:"slots_discarded"`
	OrphansRemoved  int `json:"orphans_removed"`
	Restored        int `json:"restored"`
	MarkedError     int `json:"marked_error"`
	SkippedBusy     int `json:"skipped_busy"`
}

// Recover repairs state left behind by crashed or interrupted operations.
// Slugs whose lock is held by a live operation are skipped.
func (c *Coordinator) Recover(ctx context.Context) (*RecoveryReport, error) {
	ctx = logger.WithContextFields(ctx, map[string]interface{}{"op": "recover"})
	report := &RecoveryReport{}

	if err := c.recoverStaging(ctx, report); err != nil {
		return report, newError(ErrExtraction, "recover", "", err)
	}

	n, err := c.tree.EmptyTrash()
	if err != nil {
		return report, newError(ErrExtraction, "recover", "", err)
	}
	report.TrashEmptied = n

	if err := c.recoverDeletes(ctx, report); err != nil {
		return report, err
	}
	if err := c.recoverSlots(ctx, report); err != nil {
		return report, err
	}
	if err := c.recoverVersions(ctx, report); err != nil {
		return report, err
	}

	c.metrics.AddRecovered("staging", report.StagingRemoved)
	c.metrics.AddRecovered("trash", report.TrashEmptied)
	c.metrics.AddRecovered("delete", report.DeletesFinished)
	c.metrics.AddRecovered("slot", report.SlotsDiscarded)
	c.metrics.AddRecovered("orphan", report.OrphansRemoved)
	c.metrics.AddRecovered("restored", report.Restored)
	c.metrics.AddRecovered("missing_storage", report.MarkedError)

	c.logger.Info(ctx, "recovery completed", map[string]interface{}{
		"staging_removed":  report.StagingRemoved,
		"trash_emptied":    report.TrashEmptied,
		"deletes_finished": report.DeletesFinished,
		"slots_discarded":  report.SlotsDiscarded,
		"orphans_removed":  report.OrphansRemoved,
		"restored":         report.Restored,
		"marked_error":     report.MarkedError,
		"skipped_busy":     report.SkippedBusy,
	})
	return report, nil
}

func (c *Coordinator) recoverStaging(ctx context.Context, report *RecoveryReport) error {
	dirs, err := c.tree.StagingDirs()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-c.cfg.StagingMaxAge)
	for _, dir := range dirs {
		if c.modifiedAfter(dir, cutoff) {
			continue
		}
		if err := c.tree.Discard(dir); err != nil {
			return err
		}
		report.StagingRemoved++
	}
	return nil
}

func (c *Coordinator) recoverDeletes(ctx context.Context, report *RecoveryReport) error {
	deleting, err := c.store.List(ctx, project.Filter{Status: project.StatusDeleting})
	if err != nil {
		return c.storeError("recover", "", err)
	}
	for _, p := range deleting {
		err := c.withSlugLock(ctx, p.Slug, report, func(ctx context.Context) error {
			if err := c.finishDelete(ctx, p, 0); err != nil {
				return err
			}
			report.DeletesFinished++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) recoverSlots(ctx context.Context, report *RecoveryReport) error {
	pending, err := c.store.List(ctx, project.Filter{Status: project.StatusPending})
	if err != nil {
		return c.storeError("recover", "", err)
	}
	cutoff := time.Now().Add(-c.cfg.StagingMaxAge)
	for _, p := range pending {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		err := c.withSlugLock(ctx, p.Slug, report, func(ctx context.Context) error {
			if err := c.store.DiscardSlot(ctx, p.Slug); err != nil {
				return c.storeError("recover", p.Slug, err)
			}
			report.SlotsDiscarded++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recoverVersions removes version directories no row references and flags
// promoted projects whose current directory has vanished.
func (c *Coordinator) recoverVersions(ctx context.Context, report *RecoveryReport) error {
	slugs, err := c.tree.Slugs()
	if err != nil {
		return newError(ErrExtraction, "recover", "", err)
	}
	seen := make(map[string]struct{}, len(slugs))
	for _, slug := range slugs {
		seen[slug] = struct{}{}
		if err := c.withSlugLock(ctx, slug, report, func(ctx context.Context) error {
			return c.recoverSlug(ctx, slug, report)
		}); err != nil {
			return err
		}
	}

	// Promoted projects without any directory on disk.
	for _, status := range []project.Status{project.StatusActive, project.StatusInactive} {
		projects, err := c.store.List(ctx, project.Filter{Status: status})
		if err != nil {
			return c.storeError("recover", "", err)
		}
		for _, p := range projects {
			if _, ok := seen[p.Slug]; ok {
				continue
			}
			if err := c.withSlugLock(ctx, p.Slug, report, func(ctx context.Context) error {
				return c.recoverSlug(ctx, p.Slug, report)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) recoverSlug(ctx context.Context, slug string, report *RecoveryReport) error {
	p, err := c.store.GetBySlug(ctx, slug)
	if errors.Is(err, project.ErrProjectNotFound) {
		dir, dirErr := c.tree.ProjectDir(slug)
		if dirErr != nil || c.modifiedAfter(dir, time.Now().Add(-c.cfg.StagingMaxAge)) {
			return nil
		}
		versions, _ := c.tree.Versions(slug)
		if err := c.tree.RemoveProject(slug); err != nil {
			return newError(ErrExtraction, "recover", slug, err)
		}
		report.OrphansRemoved += len(versions)
		c.logger.Warn(ctx, "removed directory of unknown project", map[string]interface{}{"slug": slug})
		return nil
	}
	if err != nil {
		return c.storeError("recover", slug, err)
	}
	if p.Status == project.StatusDeleting {
		return nil
	}

	referenced := map[string]struct{}{}
	if p.Promoted() {
		referenced[p.CurrentVersion] = struct{}{}
	}
	history, err := c.store.ListHistory(ctx, slug)
	if err != nil {
		return c.storeError("recover", slug, err)
	}
	for _, h := range history {
		referenced[h.Version] = struct{}{}
	}

	versions, err := c.tree.Versions(slug)
	if err != nil {
		return newError(ErrExtraction, "recover", slug, err)
	}
	cutoff := time.Now().Add(-c.cfg.StagingMaxAge)
	for _, v := range versions {
		if _, ok := referenced[v]; ok {
			continue
		}
		if dir, err := c.tree.VersionDir(slug, v); err != nil || c.modifiedAfter(dir, cutoff) {
			continue
		}
		if err := c.tree.RemoveVersion(slug, v); err != nil {
			return newError(ErrExtraction, "recover", slug, err)
		}
		report.OrphansRemoved++
		c.logger.Warn(ctx, "removed unreferenced version", map[string]interface{}{
			"slug":    slug,
			"version": v,
		})
	}

	if p.Promoted() && p.Status != project.StatusError && !c.tree.Exists(p.StoragePath) {
		if c.restoreFromMirror(ctx, p) {
			report.Restored++
			return nil
		}
		if _, err := c.store.SetStatus(ctx, slug, project.StatusError); err != nil {
			return c.storeError("recover", slug, err)
		}
		report.MarkedError++
		c.logger.Error(ctx, "project storage missing, marked as error", map[string]interface{}{
			"slug":         slug,
			"storage_path": p.StoragePath,
		})
	}
	return nil
}

// restoreFromMirror re-extracts the current version of p from its mirrored
// archive. It reports false when there is no mirror copy or it cannot be
// used, leaving the caller to flag the project.
func (c *Coordinator) restoreFromMirror(ctx context.Context, p *project.Project) bool {
	if c.mirror == nil {
		return false
	}
	key := storage.ArchiveKey(p.Slug, p.CurrentVersion)
	fields := map[string]interface{}{"slug": p.Slug, "key": key}

	rc, err := c.mirror.Download(ctx, key)
	if errors.Is(err, storage.ErrFileNotFound) {
		return false
	}
	if err != nil {
		c.metrics.IncMirrorFailure("download")
		fields["error"] = err.Error()
		c.logger.Warn(ctx, "failed to download mirrored archive", fields)
		return false
	}
	defer rc.Close()

	a, err := c.validator.Validate(ctx, rc)
	if err != nil {
		fields["error"] = err.Error()
		c.logger.Warn(ctx, "mirrored archive rejected", fields)
		return false
	}
	if a.Digest != p.CurrentVersion {
		fields["digest"] = a.Digest
		c.logger.Warn(ctx, "mirrored archive does not match current version", fields)
		return false
	}

	loc, err := c.extractor.Extract(ctx, a)
	if err != nil {
		fields["error"] = err.Error()
		c.logger.Warn(ctx, "failed to extract mirrored archive", fields)
		return false
	}
	placed, err := c.tree.Promote(loc.StagingDir, p.Slug, a.Digest)
	if err != nil {
		c.discardStaging(ctx, loc.StagingDir)
		fields["error"] = err.Error()
		c.logger.Warn(ctx, "failed to place restored version", fields)
		return false
	}

	fields["path"] = placed
	c.logger.Warn(ctx, "restored missing version from mirror", fields)
	return true
}

// withSlugLock runs fn while holding the slug lock. A slug whose lock is busy
// is counted and skipped.
func (c *Coordinator) withSlugLock(ctx context.Context, slug string, report *RecoveryReport, fn func(context.Context) error) error {
	release, err := c.locker.Acquire(ctx, slug, c.cfg.LockTimeout)
	if errors.Is(err, lock.ErrLockTimeout) {
		report.SkippedBusy++
		c.logger.Info(ctx, "slug busy, skipping recovery", map[string]interface{}{"slug": slug})
		return nil
	}
	if err != nil {
		return newError(ErrLockTimeout, "recover", slug, err)
	}
	defer release()
	return fn(ctx)
}

// modifiedAfter reports whether path or anything below it was modified after
// cutoff. Writing into a nested directory does not touch the mtime of its
// ancestors, so the whole tree is walked. Paths that cannot be inspected count
// as recent so they are left alone.
func (c *Coordinator) modifiedAfter(path string, cutoff time.Time) bool {
	recent := false
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			recent = true
			return fs.SkipAll
		}
		return nil
	})
	return err != nil || recent
}
