package models

import (
	"strings"
	"time"
)

// Role of a person tracked in both stores.
type Role string

const (
	RoleStudent Role = "student"
	RoleMentor  Role = "mentor"
	RoleStaff   Role = "staff"
)

// Subject is the normalized person value used at the pipeline boundary.
// Store-specific layouts (bson documents, postgres rows) are adapted into
// this type before any matching or sync logic runs, so that logic never
// special-cases storage schema.
type Subject struct {
	SourceID   string // document store identifier (hex ObjectID)
	TargetID   string // relational identifier (uuid), empty until synchronized
	Email      string
	RollNumber string
	Name       string
	Role       Role

	// Attachment reference fields, canonical storage keys once relocated.
	ProfileImageKey string
	ResumeKey       string
}

// NormalizeEmail lowercases and trims an email for natural-key comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeRoll trims a roll number. Roll numbers are compared verbatim
// otherwise; institutions issue them with significant case.
func NormalizeRoll(roll string) string {
	return strings.TrimSpace(roll)
}

// NormalizeName lowercases a person name and collapses runs of whitespace,
// for the matcher's last-resort name comparison.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// HasEmail reports whether the subject carries a usable email natural key.
func (s Subject) HasEmail() bool {
	return NormalizeEmail(s.Email) != ""
}

// HasRoll reports whether the subject carries a usable roll-number key.
func (s Subject) HasRoll() bool {
	return NormalizeRoll(s.RollNumber) != ""
}

// HasName reports whether the subject carries a usable name.
func (s Subject) HasName() bool {
	return NormalizeName(s.Name) != ""
}

// Relationship links a target subject to a source subject (e.g. a mentor
// assignment). At most one record per subject may be active at a time.
type Relationship struct {
	ID                 string
	SubjectID          string // the student side
	MentorID           string
	IsActive           bool
	AssignedAt         time.Time
	DeactivatedAt      *time.Time
	DeactivationReason string
}

// DeactivationSuperseded is the reason written when a newer relationship
// replaces an active one.
const DeactivationSuperseded = "superseded"
