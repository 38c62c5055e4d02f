package model

import "time"

// Assignment status values of User.RoomAssignment.
const (
	AssignmentPending    = "pending"
	AssignmentAssigned   = "assigned"
	AssignmentCheckedIn  = "checked-in"
	AssignmentCheckedOut = "checked-out"
)

// Gender values. Rooms additionally accept GenderShared.
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderShared = "shared"
)

// RoomAssignment is the denormalized view of a user's current bed. It is
// derived from the active reservation and only written by the allocation
// service and the repair sweep.
type RoomAssignment struct {
	RoomNumber *string    `json:"room_number"`
	AssignedAt *time.Time `json:"assigned_at"`
	Status     string     `json:"status"`
}

// PendingAssignment is the empty assignment of a user without a bed.
func PendingAssignment() RoomAssignment {
	return RoomAssignment{Status: AssignmentPending}
}

// Matches reports whether the assignment points at roomNumber with status
// assigned.
func (a RoomAssignment) Matches(roomNumber string) bool {
	return a.Status == AssignmentAssigned && a.RoomNumber != nil && *a.RoomNumber == roomNumber
}

// User represents a row of the `users` table.
type User struct {
	ID                   uint64         `json:"id"`                    // users.id
	Name                 string         `json:"name"`                  // users.name
	Email                string         `json:"email"`                 // users.email (unique)
	PasswordHash         string         `json:"-"`                     // users.password_hash
	Phone                string         `json:"phone"`                 // users.phone
	GuardianPhone        string         `json:"guardian_phone"`        // users.guardian_phone
	GuardianRelationship string         `json:"guardian_relationship"` // users.guardian_relationship
	Grade                string         `json:"grade"`                 // users.grade: 1,2,3,T,A
	ClassNumber          *int           `json:"class_number"`          // users.class_number
	Gender               string         `json:"gender"`                // users.gender
	NationalIDEnc        string         `json:"-"`                     // users.national_id_enc
	NationalIDIndex      string         `json:"-"`                     // users.national_id_index (unique)
	Role                 string         `json:"role"`                  // users.role
	IsActive             bool           `json:"is_active"`             // users.is_active
	DeletedAt            *time.Time     `json:"deleted_at,omitempty"`  // users.deleted_at
	SpecialRequests      string         `json:"special_requests"`      // users.special_requests
	RoomAssignment       RoomAssignment `json:"room_assignment"`       // users.room_number/room_assigned_at/room_status
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == "admin" }

// UserSummary is the projection embedded in reservation views.
type UserSummary struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Gender string `json:"gender"`
	Grade  string `json:"grade"`
}

// Summary projects the user onto a UserSummary.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Gender: u.Gender, Grade: u.Grade}
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
