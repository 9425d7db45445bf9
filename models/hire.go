package models

import (
	"strings"
	"time"
)

// HireTransition is a single "hired" status transition as reported by the
// source-of-hire system. It is validated before it becomes a Hire.
type HireTransition struct {
	CandidateID    string    `json:"candidate_id" validate:"required,max=128"`
	Name           string    `json:"name" validate:"required,max=256"`
	Email          string    `json:"email,omitempty" validate:"omitempty,email"`
	Title          string    `json:"title,omitempty"`
	Department     string    `json:"department,omitempty" validate:"omitempty,max=256"`
	ManagerID      string    `json:"manager_id,omitempty"`
	StartDate      time.Time `json:"start_date,omitempty"`
	TransitionedAt time.Time `json:"transitioned_at" validate:"required"`
}

// Hire represents a candidate that transitioned to hired in the source system.
// The candidate ID is the idempotency key for everything downstream.
type Hire struct {
	ID             string    `json:"id" db:"hire_id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email,omitempty" db:"email"` // personal address from the candidate profile
	Title          string    `json:"title,omitempty" db:"title"`
	Department     string    `json:"department" db:"department"`
	ManagerID      string    `json:"manager_id,omitempty" db:"manager_id"`
	StartDate      time.Time `json:"start_date,omitempty" db:"start_date"`
	TransitionedAt time.Time `json:"transitioned_at" db:"transitioned_at"`
	DetectedAt     time.Time `json:"detected_at" db:"detected_at"`
}

// NewHire builds a Hire from a validated transition.
func NewHire(t HireTransition, detectedAt time.Time) Hire {
	return Hire{
		ID:             strings.TrimSpace(t.CandidateID),
		Name:           strings.TrimSpace(t.Name),
		Email:          strings.TrimSpace(t.Email),
		Title:          strings.TrimSpace(t.Title),
		Department:     strings.TrimSpace(t.Department),
		ManagerID:      strings.TrimSpace(t.ManagerID),
		StartDate:      t.StartDate.UTC(),
		TransitionedAt: t.TransitionedAt.UTC(),
		DetectedAt:     detectedAt.UTC(),
	}
}

// GivenName returns the first word of the hire's name.
func (h Hire) GivenName() string {
	parts := strings.Fields(h.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Team names the hire's department for messages, or "the team" when the
// source system sent none.
func (h Hire) Team() string {
	if h.Department == "" {
		return "the team"
	}
	return "the " + h.Department + " team"
}

// FamilyName returns the last word of the hire's name, or "" for single-word names.
func (h Hire) FamilyName() string {
	parts := strings.Fields(h.Name)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

// EffectiveStartDate returns the start date, falling back to the first weekday
// after detection when the source system did not provide one.
func (h Hire) EffectiveStartDate() time.Time {
	if !h.StartDate.IsZero() {
		return h.StartDate
	}
	d := h.DetectedAt.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Before reports whether h sorts before other: transition time ascending,
// candidate ID as the tie-break.
func (h Hire) Before(other Hire) bool {
	if !h.TransitionedAt.Equal(other.TransitionedAt) {
		return h.TransitionedAt.Before(other.TransitionedAt)
	}
	return h.ID < other.ID
}
