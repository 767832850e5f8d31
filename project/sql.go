package project

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hairizuan-noorazman/spahost/logger"
)

// SQLStore implements the Store interface using GORM over MySQL or SQLite.
type SQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewSQLStore creates a new GORM-backed project store.
func NewSQLStore(db *gorm.DB, log logger.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: log,
	}
}

// CreateOrGetSlot returns the row for slug, inserting a pending row if needed.
func (s *SQLStore) CreateOrGetSlot(ctx context.Context, slug, displayName string) (*Project, bool, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, false, err
	}
	if displayName == "" {
		displayName = slug
	}

	existing, err := s.GetBySlug(ctx, slug)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrProjectNotFound) {
		return nil, false, err
	}

	p := &Project{
		Slug:        slug,
		DisplayName: displayName,
		Status:      StatusPending,
	}
	if err := p.Validate(); err != nil {
		return nil, false, err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slug"}}, DoNothing: true}).
		Create(p)
	if result.Error != nil {
		s.logger.Error(ctx, "failed to create project slot", map[string]interface{}{
			"error": result.Error.Error(),
			"slug":  slug,
		})
		return nil, false, result.Error
	}

	if result.RowsAffected == 0 {
		// Another writer inserted the slug between the lookup and the insert.
		existing, err := s.GetBySlug(ctx, slug)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.logger.Info(ctx, "project slot created", map[string]interface{}{
		"project_id": p.ID.String(),
		"slug":       slug,
	})
	return p, true, nil
}

// Promote swaps the current version of slug in one transaction.
func (s *SQLStore) Promote(ctx context.Context, slug, expectedVersion string, params PromoteParams) (*Project, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var promoted Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Project
		if err := tx.Where("slug = ?", slug).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		if current.Status == StatusDeleting {
			return ErrProjectDeleting
		}
		if current.CurrentVersion != expectedVersion {
			return ErrConcurrentModification
		}
		if current.CurrentVersion == params.Version {
			promoted = current
			return nil
		}

		now := time.Now().UTC()
		status := StatusActive
		if current.Status == StatusInactive {
			status = StatusInactive
		}

		result := tx.Model(&Project{}).
			Where("slug = ? AND current_version = ?", slug, expectedVersion).
			Updates(map[string]interface{}{
				"current_version": params.Version,
				"storage_path":    params.StoragePath,
				"entry_point":     params.EntryPoint,
				"size_bytes":      params.SizeBytes,
				"file_count":      params.FileCount,
				"status":          status,
				"promoted_at":     now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentModification
		}

		if current.Promoted() {
			entry := &HistoryEntry{
				ProjectID:    current.ID,
				Version:      current.CurrentVersion,
				StoragePath:  current.StoragePath,
				EntryPoint:   current.EntryPoint,
				SizeBytes:    current.SizeBytes,
				FileCount:    current.FileCount,
				PromotedAt:   current.PromotedAt,
				SupersededAt: now,
			}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}

		return tx.Where("id = ?", current.ID).First(&promoted).Error
	})
	if err != nil {
		if !isDomainError(err) {
			s.logger.Error(ctx, "failed to promote project", map[string]interface{}{
				"error":   err.Error(),
				"slug":    slug,
				"version": params.Version,
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "project promoted", map[string]interface{}{
		"slug":             slug,
		"version":          promoted.CurrentVersion,
		"previous_version": expectedVersion,
	})
	return &promoted, nil
}

// GetActive returns the promoted row for slug.
func (s *SQLStore) GetActive(ctx context.Context, slug string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).
		Where("slug = ? AND current_version <> ?", slug, "").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		s.logger.Error(ctx, "failed to get active project", map[string]interface{}{
			"error": err.Error(),
			"slug":  slug,
		})
		return nil, err
	}
	return &p, nil
}

// GetBySlug returns the row for slug in any state.
func (s *SQLStore) GetBySlug(ctx context.Context, slug string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		s.logger.Error(ctx, "failed to get project by slug", map[string]interface{}{
			"error": err.Error(),
			"slug":  slug,
		})
		return nil, err
	}
	return &p, nil
}

// SetStatus changes the status of a promoted project.
func (s *SQLStore) SetStatus(ctx context.Context, slug string, status Status) (*Project, error) {
	switch status {
	case StatusActive, StatusInactive, StatusError:
	default:
		return nil, ErrInvalidStatus
	}

	var updated Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Project
		if err := tx.Where("slug = ?", slug).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		if current.Status == StatusPending || current.Status == StatusDeleting || !current.Promoted() {
			return ErrInvalidTransition
		}
		if current.Status == status {
			updated = current
			return nil
		}

		result := tx.Model(&Project{}).
			Where("slug = ? AND status = ?", slug, current.Status).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		return tx.Where("id = ?", current.ID).First(&updated).Error
	})
	if err != nil {
		if !isDomainError(err) {
			s.logger.Error(ctx, "failed to set project status", map[string]interface{}{
				"error":  err.Error(),
				"slug":   slug,
				"status": string(status),
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "project status updated", map[string]interface{}{
		"slug":   slug,
		"status": string(updated.Status),
	})
	return &updated, nil
}

// Update applies setters to the display metadata of slug.
func (s *SQLStore) Update(ctx context.Context, slug string, setters ...UpdateSetter) (*Project, error) {
	p, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusDeleting {
		return nil, ErrProjectDeleting
	}

	for _, setter := range setters {
		if err := setter(p); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("id = ? AND status <> ?", p.ID, StatusDeleting).
		Updates(map[string]interface{}{
			"display_name": p.DisplayName,
			"updated_at":   now,
		})
	if result.Error != nil {
		s.logger.Error(ctx, "failed to update project", map[string]interface{}{
			"error": result.Error.Error(),
			"slug":  slug,
		})
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrProjectDeleting
	}
	p.UpdatedAt = now

	s.logger.Info(ctx, "project updated", map[string]interface{}{
		"slug": slug,
	})
	return p, nil
}

// MarkDeleting flags slug as being deleted. Marking an already deleting
// project is a no-op so interrupted deletes can be resumed.
func (s *SQLStore) MarkDeleting(ctx context.Context, slug string) (*Project, error) {
	var marked Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slug = ?", slug).First(&marked).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		if marked.Status == StatusDeleting {
			return nil
		}

		now := time.Now().UTC()
		result := tx.Model(&Project{}).
			Where("id = ? AND status = ?", marked.ID, marked.Status).
			Updates(map[string]interface{}{
				"status":     StatusDeleting,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		marked.Status = StatusDeleting
		marked.UpdatedAt = now
		return nil
	})
	if err != nil {
		if !isDomainError(err) {
			s.logger.Error(ctx, "failed to mark project deleting", map[string]interface{}{
				"error": err.Error(),
				"slug":  slug,
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "project marked deleting", map[string]interface{}{
		"slug": slug,
	})
	return &marked, nil
}

// Purge removes a deleting project and its history in one transaction.
func (s *SQLStore) Purge(ctx context.Context, slug string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.Where("slug = ?", slug).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		if p.Status != StatusDeleting {
			return ErrInvalidTransition
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&HistoryEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", p.ID).Delete(&Project{}).Error
	})
	if err != nil {
		if !isDomainError(err) {
			s.logger.Error(ctx, "failed to purge project", map[string]interface{}{
				"error": err.Error(),
				"slug":  slug,
			})
		}
		return err
	}

	s.logger.Info(ctx, "project purged", map[string]interface{}{
		"slug": slug,
	})
	return nil
}

// DiscardSlot removes slug only while it is still an unpromoted pending slot.
func (s *SQLStore) DiscardSlot(ctx context.Context, slug string) error {
	result := s.db.WithContext(ctx).
		Where("slug = ? AND status = ? AND current_version = ?", slug, StatusPending, "").
		Delete(&Project{})
	if result.Error != nil {
		s.logger.Error(ctx, "failed to discard project slot", map[string]interface{}{
			"error": result.Error.Error(),
			"slug":  slug,
		})
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Debug(ctx, "project slot discarded", map[string]interface{}{
			"slug": slug,
		})
	}
	return nil
}

// List returns projects matching filter.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Project, error) {
	q := applyFilter(s.db.WithContext(ctx).Model(&Project{}), filter)
	q = q.Order(orderClause(filter))
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var projects []*Project
	if err := q.Find(&projects).Error; err != nil {
		s.logger.Error(ctx, "failed to list projects", map[string]interface{}{
			"error":  err.Error(),
			"status": string(filter.Status),
			"limit":  filter.Limit,
			"offset": filter.Offset,
		})
		return nil, err
	}
	return projects, nil
}

// Count returns the number of projects matching filter.
func (s *SQLStore) Count(ctx context.Context, filter Filter) (int, error) {
	var count int64
	err := applyFilter(s.db.WithContext(ctx).Model(&Project{}), filter).Count(&count).Error
	if err != nil {
		s.logger.Error(ctx, "failed to count projects", map[string]interface{}{
			"error":  err.Error(),
			"status": string(filter.Status),
		})
		return 0, err
	}
	return int(count), nil
}

// ListHistory returns superseded versions of slug, newest first.
func (s *SQLStore) ListHistory(ctx context.Context, slug string) ([]*HistoryEntry, error) {
	p, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	var entries []*HistoryEntry
	err = s.db.WithContext(ctx).
		Where("project_id = ?", p.ID).
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		s.logger.Error(ctx, "failed to list project history", map[string]interface{}{
			"error": err.Error(),
			"slug":  slug,
		})
		return nil, err
	}
	return entries, nil
}

// GetHistoryVersion returns the newest history entry of slug for version.
func (s *SQLStore) GetHistoryVersion(ctx context.Context, slug, version string) (*HistoryEntry, error) {
	p, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	var entry HistoryEntry
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND version = ?", p.ID, version).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		s.logger.Error(ctx, "failed to get history version", map[string]interface{}{
			"error":   err.Error(),
			"slug":    slug,
			"version": version,
		})
		return nil, err
	}
	return &entry, nil
}

// PruneHistory keeps the keep most recent distinct prior versions of slug.
func (s *SQLStore) PruneHistory(ctx context.Context, slug string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}

	var removed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.Where("slug = ?", slug).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}

		var entries []*HistoryEntry
		if err := tx.Where("project_id = ?", p.ID).Order("id DESC").Find(&entries).Error; err != nil {
			return err
		}

		kept := make(map[string]struct{})
		dropped := make(map[string]struct{})
		var ids []uint
		for _, e := range entries {
			if e.Version == p.CurrentVersion {
				continue
			}
			if _, ok := kept[e.Version]; ok {
				continue
			}
			if _, ok := dropped[e.Version]; !ok && len(kept) < keep {
				kept[e.Version] = struct{}{}
				continue
			}
			ids = append(ids, e.ID)
			if _, ok := dropped[e.Version]; !ok {
				dropped[e.Version] = struct{}{}
				removed = append(removed, e.Version)
			}
		}

		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&HistoryEntry{}).Error
	})
	if err != nil {
		if !isDomainError(err) {
			s.logger.Error(ctx, "failed to prune project history", map[string]interface{}{
				"error": err.Error(),
				"slug":  slug,
				"keep":  keep,
			})
		}
		return nil, err
	}

	if len(removed) > 0 {
		s.logger.Info(ctx, "project history pruned", map[string]interface{}{
			"slug":     slug,
			"removed":  len(removed),
			"retained": keep,
		})
	}
	return removed, nil
}

func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("(slug LIKE ? OR display_name LIKE ?)", like, like)
	}
	return q
}

func orderClause(f Filter) string {
	dir := " ASC"
	if f.Desc {
		dir = " DESC"
	}
	switch f.Order {
	case OrderName:
		return "display_name" + dir + ", slug ASC"
	case OrderUpdated:
		return "updated_at" + dir + ", slug ASC"
	case OrderCreated:
		return "created_at" + dir + ", slug ASC"
	default:
		return "created_at DESC, slug ASC"
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrProjectDeleting) ||
		errors.Is(err, ErrVersionNotFound)
}
