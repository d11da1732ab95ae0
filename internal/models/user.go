package models

import (
	"slices"
	"strings"
)

// User represents a person who can author changes.
//
// One person may appear under several references (their user id, their email
// address, the id of a participant row created before they signed up).
// Aliases lists those references so attribution can treat them as the same
// logical user.
type User struct {
	// ID is the canonical identifier of the user.
	ID string

	// DisplayName is the name shown to other participants.
	DisplayName string

	// Email is the user's email address.
	Email string

	// Aliases are additional references that resolve to this user.
	Aliases []string
}

// Matches reports whether ref refers to this user. Emails compare
// case-insensitively.
func (u *User) Matches(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	if ref == u.ID || strings.EqualFold(ref, u.Email) {
		return true
	}
	return slices.Contains(u.Aliases, ref)
}
