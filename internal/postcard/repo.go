package postcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kanghyki/badang-post-office/pkg/db"
	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

// Repository is the persistence boundary for postcards.
type Repository interface {
	Create(ctx context.Context, pc *models.Postcard) error
	Get(ctx context.Context, id uuid.UUID) (*models.Postcard, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	// Claim atomically moves the postcard to the target status if and only if
	// its current status is one of from. The rows-affected count is the lock:
	// exactly one concurrent caller observes claimed=true.
	Claim(ctx context.Context, id uuid.UUID, to enums.PostcardStatus, from ...enums.PostcardStatus) (bool, error)
	// FailStale marks a processing postcard as failed when its last update is
	// older than the cutoff, in a single conditional write.
	FailStale(ctx context.Context, id uuid.UUID, message string, olderThan time.Time) (bool, error)
	ListPendingScheduled(ctx context.Context) ([]models.Postcard, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]models.Postcard, error)
	CountInStatuses(ctx context.Context, userID uuid.UUID, statuses ...enums.PostcardStatus) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Create(ctx context.Context, pc *models.Postcard) error {
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	if pc.Status == "" {
		pc.Status = enums.PostcardStatusWriting
	}
	if err := r.db.WithContext(ctx).Create(pc).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to create postcard")
	}
	return nil
}

func (r *repositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.Postcard, error) {
	var pc models.Postcard
	err := r.db.WithContext(ctx).First(&pc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "postcard not found").
			WithDetails(map[string]any{"postcard_id": id.String()})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load postcard")
	}
	return &pc, nil
}

func (r *repositoryImpl) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Postcard{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "failed to update postcard")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "postcard not found").
			WithDetails(map[string]any{"postcard_id": id.String()})
	}
	return nil
}

func (r *repositoryImpl) Claim(ctx context.Context, id uuid.UUID, to enums.PostcardStatus, from ...enums.PostcardStatus) (bool, error) {
	// Every status entry goes through here, so the lifecycle table is the
	// gate: a caller asking for an edge outside it is a programming error.
	for _, source := range from {
		if !CanTransition(source, to) {
			return false, pkgerrors.New(pkgerrors.CodeInternal,
				fmt.Sprintf("claim edge %s -> %s is outside the lifecycle", source, to))
		}
	}
	res := r.db.WithContext(ctx).
		Model(&models.Postcard{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "failed to claim postcard")
	}
	return res.RowsAffected > 0, nil
}

func (r *repositoryImpl) FailStale(ctx context.Context, id uuid.UUID, message string, olderThan time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Postcard{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, enums.PostcardStatusProcessing, olderThan).
		Updates(map[string]any{
			"status":        enums.PostcardStatusFailed,
			"error_message": message,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "failed to fail stale postcard")
	}
	return res.RowsAffected > 0, nil
}

func (r *repositoryImpl) ListPendingScheduled(ctx context.Context) ([]models.Postcard, error) {
	var rows []models.Postcard
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL", enums.PostcardStatusPending).
		Order("scheduled_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list pending postcards")
	}
	return rows, nil
}

func (r *repositoryImpl) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]models.Postcard, error) {
	var rows []models.Postcard
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.PostcardStatusProcessing, olderThan).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list stale postcards")
	}
	return rows, nil
}

func (r *repositoryImpl) CountInStatuses(ctx context.Context, userID uuid.UUID, statuses ...enums.PostcardStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Postcard{}).
		Where("user_id = ? AND status IN ?", userID, statuses).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to count postcards")
	}
	return count, nil
}

// Delete removes the postcard together with its event log in one transaction.
func (r *repositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Delete(&models.Postcard{}, "id = ?", id)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "failed to delete postcard")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "postcard not found").
				WithDetails(map[string]any{"postcard_id": id.String()})
		}
		if err := tx.Delete(&models.PostcardEvent{}, "postcard_id = ?", id).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to delete postcard events")
		}
		return nil
	})
}
