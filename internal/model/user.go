// Package model holds the plain data records persisted by the auth service.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Theme is the stored UI preference. It has no bearing on auth decisions
// but lives on the user record.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeGlass Theme = "glass"
)

// Valid reports whether t is one of the recognized themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeGlass:
		return true
	}
	return false
}

// User is a persisted account record. PasswordHash is only populated by
// credential-path lookups and is never serialized to callers.
type User struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Theme        Theme     `json:"theme"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
