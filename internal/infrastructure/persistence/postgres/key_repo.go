// Package postgres implements the domain repositories on PostgreSQL.
// The signing-key store runs on gorm for its transactional activation;
// the token and revocation stores use pgx with hand-written SQL.
package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

type gormKeyRepository struct {
	db  *gorm.DB
	log logger.Logger
}

// NewKeyRepository builds the gorm-backed signing-key store.
func NewKeyRepository(db *gorm.DB, log logger.Logger) repository.KeyRepository {
	return &gormKeyRepository{db: db, log: log.WithComponent("key_repository")}
}

func (r *gormKeyRepository) Create(ctx context.Context, key *models.SigningKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

func (r *gormKeyRepository) FindByKID(ctx context.Context, kid string) (*models.SigningKey, error) {
	var key models.SigningKey
	err := r.db.WithContext(ctx).Where("kid = ?", kid).First(&key).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrKeyNotFound.WithMetadata("kid", kid)
		}
		return nil, errors.ErrStorage.WithCause(err)
	}
	return &key, nil
}

func (r *gormKeyRepository) FindActive(ctx context.Context) (*models.SigningKey, error) {
	var key models.SigningKey
	err := r.db.WithContext(ctx).Where("active = ?", true).First(&key).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNoActiveKey
		}
		return nil, errors.ErrStorage.WithCause(err)
	}
	return &key, nil
}

func (r *gormKeyRepository) FindUnexpired(ctx context.Context, now time.Time) ([]*models.SigningKey, error) {
	var keys []*models.SigningKey
	err := r.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	return keys, nil
}

// Activate promotes one key and demotes the rest. The swap is a single
// UPDATE statement, so concurrent readers observe exactly one active
// key at every instant and two racing activations serialize on the row
// locks instead of interleaving.
func (r *gormKeyRepository) Activate(ctx context.Context, kid string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.SigningKey
		err := tx.Where("kid = ?", kid).First(&target).Error
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrKeyNotFound.WithMetadata("kid", kid)
			}
			return errors.ErrStorage.WithCause(err)
		}
		if target.IsExpired(time.Now().UTC()) {
			return errors.ErrKeyExpired.WithMetadata("kid", kid)
		}

		err = tx.Model(&models.SigningKey{}).
			Where("active = ? OR kid = ?", true, kid).
			Update("active", gorm.Expr("kid = ?", kid)).Error
		if err != nil {
			return errors.ErrStorage.WithCause(err)
		}
		return nil
	})
}

func (r *gormKeyRepository) Deactivate(ctx context.Context, kid string) error {
	result := r.db.WithContext(ctx).Model(&models.SigningKey{}).
		Where("kid = ?", kid).
		Update("active", false)
	if result.Error != nil {
		return errors.ErrStorage.WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	return nil
}

func (r *gormKeyRepository) Expire(ctx context.Context, kid string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.SigningKey{}).
		Where("kid = ?", kid).
		Update("expires_at", at)
	if result.Error != nil {
		return errors.ErrStorage.WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrKeyNotFound.WithMetadata("kid", kid)
	}
	return nil
}

func (r *gormKeyRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.SigningKey{})
	if result.Error != nil {
		return 0, errors.ErrStorage.WithCause(result.Error)
	}
	return result.RowsAffected, nil
}
