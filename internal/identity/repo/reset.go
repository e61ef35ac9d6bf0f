package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/interview_prep/internal/identity/models"
)

func (r *GormRepo) AddPasswordReset(ctx context.Context, p *models.PasswordReset) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

// ConsumePasswordReset marks the reset token used, stores the new password
// hash and revokes every refresh token of the user, all or nothing.
func (r *GormRepo) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string, now int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reset models.PasswordReset
		if err := tx.Where("token_hash = ?", tokenHash).First(&reset).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResetTokenUsed
			}
			return err
		}
		if reset.Used || reset.ExpiresAt < now {
			return ErrResetTokenUsed
		}

		if err := tx.Model(&models.PasswordReset{}).Where("id = ?", reset.ID).Update("used", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", reset.UserID).Update("password_hash", passwordHash).Error; err != nil {
			return err
		}
		return revokeAll(tx, reset.UserID)
	})
}
