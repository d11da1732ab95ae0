package merge

import (
	"slices"

	"github.com/mmynk/eventsync/internal/models"
)

// Directory is the read-only lookup service a merge consults. It replaces
// process-wide lookup tables so merges are testable in isolation.
type Directory interface {
	// HasCategory reports whether id names a known category.
	HasCategory(id string) bool

	// HasPaymentMethod reports whether id names a known payment method.
	HasPaymentMethod(id string) bool

	// User resolves any reference (id, email or alias) to a user.
	User(ref string) (*models.User, bool)
}

// SameUser reports whether two references denote the same logical user.
// Empty references never match.
func SameUser(dir Directory, a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if dir == nil {
		return false
	}
	if u, ok := dir.User(a); ok && u.Matches(b) {
		return true
	}
	if u, ok := dir.User(b); ok && u.Matches(a) {
		return true
	}
	return false
}

// StaticDirectory is a Directory over fixed lists. A nil Categories or
// PaymentMethods list means no catalog was loaded and every reference of that
// kind is kept; an empty non-nil list rejects them all.
type StaticDirectory struct {
	Categories     []string
	PaymentMethods []string
	Users          []*models.User
}

var _ Directory = (*StaticDirectory)(nil)

// HasCategory implements Directory.
func (d *StaticDirectory) HasCategory(id string) bool {
	return d.Categories == nil || slices.Contains(d.Categories, id)
}

// HasPaymentMethod implements Directory.
func (d *StaticDirectory) HasPaymentMethod(id string) bool {
	return d.PaymentMethods == nil || slices.Contains(d.PaymentMethods, id)
}

// User implements Directory.
func (d *StaticDirectory) User(ref string) (*models.User, bool) {
	for _, u := range d.Users {
		if u.Matches(ref) {
			return u, true
		}
	}
	return nil, false
}
