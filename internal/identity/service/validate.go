package service

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/Skotchmaster/interview_prep/internal/models"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

func validateEmail(f fieldErrors, email string) {
	if email == "" {
		f.add("email", "Email is required")
		return
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		f.add("email", "Email should be valid")
	}
}

func validatePassword(f fieldErrors, field, password string) {
	if len(password) < 8 {
		f.add(field, "Password must be at least 8 characters")
		return
	}
	if len(password) > 72 {
		f.add(field, "Password must be at most 72 bytes")
		return
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		f.add(field, "Password must contain letters and digits")
	}
}

func validateRegister(req models.RegisterRequest) error {
	f := fieldErrors{}
	validateEmail(f, strings.TrimSpace(req.Email))
	if !usernameRe.MatchString(req.Username) {
		f.add("username", "Username must be 3-50 letters, digits or underscores")
	}
	validatePassword(f, "password", req.Password)
	if len(req.FirstName) > 50 {
		f.add("firstName", "First name must be at most 50 characters")
	}
	if len(req.LastName) > 50 {
		f.add("lastName", "Last name must be at most 50 characters")
	}
	return f.err()
}

func validateLogin(req models.LoginRequest) error {
	f := fieldErrors{}
	if strings.TrimSpace(req.EmailOrUsername) == "" {
		f.add("emailOrUsername", "Email or username is required")
	}
	if req.Password == "" {
		f.add("password", "Password is required")
	}
	return f.err()
}

func validateReset(req models.ResetPasswordRequest) error {
	f := fieldErrors{}
	if req.Token == "" {
		f.add("token", "Reset token is required")
	}
	validatePassword(f, "newPassword", req.NewPassword)
	if req.NewPassword != req.ConfirmPassword {
		f.add("confirmPassword", "Passwords do not match")
	}
	return f.err()
}
