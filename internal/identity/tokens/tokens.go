package tokens

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type AccessClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Issuer signs and parses the HS256 token pair. Access and refresh tokens use
// different secrets so one can never be replayed as the other.
type Issuer struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

type Subject struct {
	ID       string
	Email    string
	Username string
	Role     string
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) CreateAccessToken(s Subject) (string, time.Time, error) {
	exp := i.now().Add(i.AccessTTL)
	claims := AccessClaims{
		Email:    s.Email,
		Username: s.Username,
		Role:     s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        NewJTI(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// CreateRefreshToken returns the signed token and its JTI.
func (i *Issuer) CreateRefreshToken(userID string) (string, string, time.Time, error) {
	jti := NewJTI()
	exp := i.now().Add(i.RefreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.RefreshSecret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, exp, nil
}

func (i *Issuer) AccessClaimsFromToken(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := i.parse(tokenStr, &claims, i.AccessSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (i *Issuer) RefreshClaimsFromToken(tokenStr string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := i.parse(tokenStr, &claims, i.RefreshSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (i *Issuer) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	tkn, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return err
	}
	if !tkn.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func NewJTI() string { return uuid.NewString() }
