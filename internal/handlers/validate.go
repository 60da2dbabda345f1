package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"wattmate/internal/models"
)

const (
	maxBodyBytes = 1 << 20
	// bcrypt only accepts this many bytes of input.
	maxPasswordBytes = 72
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^[0-9+\-\s()]+$`)
)

// decodeJSON reads one JSON object into dst. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

type checks []string

func (c *checks) add(ok bool, msg string) {
	if !ok {
		*c = append(*c, msg)
	}
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func (c *checks) name(v string) {
	v = strings.TrimSpace(v)
	c.add(v != "", "Name is required")
	if v != "" {
		c.add(runeLen(v) >= 2, "Name must be at least 2 characters")
		c.add(runeLen(v) <= 100, "Name must be at most 100 characters")
	}
}

func (c *checks) email(v string) {
	v = strings.TrimSpace(v)
	c.add(v != "", "Email is required")
	if v != "" {
		c.add(emailRe.MatchString(v), "Email format is invalid")
	}
}

func (c *checks) newPassword(field, v string) {
	c.add(v != "", field+" is required")
	if v != "" {
		c.add(runeLen(v) >= 6, field+" must be at least 6 characters")
		c.add(len(v) <= maxPasswordBytes, field+" must be at most 72 bytes")
	}
}

func (c *checks) confirm(password, confirm string) {
	c.add(confirm != "", "Password confirmation is required")
	if confirm != "" {
		c.add(confirm == password, "Password confirmation does not match")
	}
}

func (c *checks) phone(v *string) {
	if v == nil || *v == "" {
		return
	}
	c.add(phoneRe.MatchString(*v), "Phone number format is invalid")
	c.add(runeLen(*v) >= 10, "Phone number must be at least 10 characters")
	c.add(runeLen(*v) <= 20, "Phone number must be at most 20 characters")
}

func (c *checks) address(v *string) {
	if v == nil {
		return
	}
	c.add(runeLen(*v) <= 500, "Address must be at most 500 characters")
}

func validateRegister(req *models.RegisterRequest) []string {
	var c checks
	c.name(req.Name)
	c.email(req.Email)
	c.newPassword("Password", req.Password)
	c.confirm(req.Password, req.ConfirmPassword)
	c.phone(req.Phone)
	c.address(req.Address)
	return c
}

func validateLogin(req *models.LoginRequest) []string {
	var c checks
	c.email(req.Email)
	c.add(req.Password != "", "Password is required")
	return c
}

func validateForgot(req *models.ForgotPasswordRequest) []string {
	var c checks
	c.email(req.Email)
	return c
}

func validateReset(req *models.ResetPasswordRequest) []string {
	var c checks
	c.add(strings.TrimSpace(req.Token) != "", "Reset token is required")
	c.newPassword("Password", req.Password)
	c.confirm(req.Password, req.ConfirmPassword)
	return c
}

func validateChangePassword(req *models.ChangePasswordRequest) []string {
	var c checks
	c.add(req.CurrentPassword != "", "Current password is required")
	c.newPassword("New password", req.NewPassword)
	c.confirm(req.NewPassword, req.ConfirmPassword)
	return c
}

func validateProfile(req *models.UpdateProfileRequest) []string {
	var c checks
	c.name(req.Name)
	c.phone(req.Phone)
	c.address(req.Address)
	return c
}
