package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/interview_prep/internal/identity/models"
	"github.com/Skotchmaster/interview_prep/internal/identity/tokens"
)

func (r *GormRepo) AddRefresh(ctx context.Context, t *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *GormRepo) refreshExpiredOrRevoked(db *gorm.DB, jti string, now int64) (bool, error) {
	var refresh models.RefreshToken
	if err := db.Where("jti = ?", jti).First(&refresh).Error; err != nil {
		return false, notFound(err)
	}
	return refresh.ExpiresAt < now || refresh.Revoked, nil
}

// RotateRefreshToken revokes oldJTI and stores newToken in one transaction.
// A token that is unknown, expired or already used yields ErrTokenRevoked.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, oldJTI string, now int64, newToken *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired, err := r.refreshExpiredOrRevoked(tx, oldJTI, now)
		if errors.Is(err, ErrNotFound) || expired {
			return ErrTokenRevoked
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.RefreshToken{}).
			Where("jti = ? AND revoked = ?", oldJTI, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenRevoked
		}

		return tx.Create(newToken).Error
	})
}

func (r *GormRepo) RevokeRefresh(ctx context.Context, refreshToken string) error {
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ?", tokens.Sha256Hex(refreshToken)).
		Update("revoked", true).Error
}

func (r *GormRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return revokeAll(r.DB.WithContext(ctx), userID)
}

func revokeAll(db *gorm.DB, userID uuid.UUID) error {
	return db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}
