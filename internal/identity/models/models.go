package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/interview_prep/internal/models"
)

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	Email         string    `gorm:"uniqueIndex;not null"     json:"email"`
	Username      string    `gorm:"uniqueIndex;not null"     json:"username"`
	PasswordHash  string    `gorm:"not null"                 json:"-"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Role          string    `gorm:"not null;default:USER"    json:"role"`
	EmailVerified bool      `gorm:"default:false"            json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u User) Profile() models.UserProfile {
	p := models.UserProfile{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          models.Role(u.Role),
		EmailVerified: u.EmailVerified,
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		p.FullName = u.FirstName + " " + u.LastName
	case u.FirstName != "":
		p.FullName = u.FirstName
	default:
		p.FullName = u.LastName
	}
	return p
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"            json:"id"`
	Token     string    `gorm:"uniqueIndex;not null"  json:"token"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	JTI       string    `gorm:"uniqueIndex;not null"  json:"jti"`
	ExpiresAt int64     `gorm:"not null"              json:"expires_at"`
	Revoked   bool      `gorm:"default:false"         json:"revoked"`
}

type PasswordReset struct {
	ID        uint      `gorm:"primaryKey"            json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null"  json:"-"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt int64     `gorm:"not null"              json:"expires_at"`
	Used      bool      `gorm:"default:false"         json:"used"`
}
