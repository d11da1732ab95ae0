package models

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/shadow"
)

// ParticipantStatus is the state of an invitation.
type ParticipantStatus string

const (
	StatusPending  ParticipantStatus = "pending"
	StatusAccepted ParticipantStatus = "accepted"
	StatusRejected ParticipantStatus = "rejected"
)

// ParticipantFields is the comparable, restorable state of a Participant.
type ParticipantFields struct {
	// UserID is the invited user; required.
	UserID string

	DisplayName string

	Status ParticipantStatus

	// Active is false once the participant was removed from the event.
	Active bool

	// Share is the amount this participant agreed to contribute.
	Share decimal.Decimal
}

// Participant is one user invited to an event.
type Participant struct {
	SyncState
	ParticipantFields

	// EventLocalID is the owning event.
	EventLocalID string

	shadow *shadow.Copy
}

// NewParticipant returns an unsubmitted, pending participant.
func NewParticipant(userID, displayName string) *Participant {
	return &Participant{
		SyncState: NewSyncState(),
		ParticipantFields: ParticipantFields{
			UserID:      userID,
			DisplayName: displayName,
			Status:      StatusPending,
			Active:      true,
		},
	}
}

func (p *Participant) Kind() Kind { return KindParticipant }
func (p *Participant) Sync() *SyncState { return &p.SyncState }
func (p *Participant) ParentLocalID() string { return p.EventLocalID }
func (p *Participant) ShadowKey() string { return p.LocalID }
func (p *Participant) Shadow() *shadow.Copy { return p.shadow }
func (p *Participant) SetShadow(c *shadow.Copy) { p.shadow = c }

// ComparableFields implements shadow.Entity.
func (p *Participant) ComparableFields() []shadow.Field {
	return []shadow.Field{
		{Name: "user_id", Value: p.UserID},
		{Name: "display_name", Value: p.DisplayName},
		{Name: "status", Value: p.Status},
		{Name: "active", Value: p.Active},
		{Name: "share", Value: p.Share},
	}
}

// CaptureState implements shadow.Entity.
func (p *Participant) CaptureState() any {
	return p.ParticipantFields
}

// ApplyState implements shadow.Entity.
func (p *Participant) ApplyState(state any) {
	if fields, ok := state.(ParticipantFields); ok {
		p.ParticipantFields = fields
	}
}

// Validate requires a user.
func (p *Participant) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return &ValidationError{Kind: KindParticipant, Field: "user"}
	}
	return nil
}

// RestoreRequired restores the user from the shadow copy.
func (p *Participant) RestoreRequired() bool {
	if p.shadow == nil {
		return false
	}
	fields, ok := p.shadow.State().(ParticipantFields)
	if !ok {
		return false
	}
	p.UserID = fields.UserID
	return true
}

// Removed reports whether the participant left the event or declined.
func (p *Participant) Removed() bool {
	return !p.Active || p.Status == StatusRejected
}
