package model

import "time"

// Reservation status values. Only StatusActive claims a bed.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Reservation is the authoritative record of one user's claim on one bed.
//
// Two unique indexes guard it at the store level: one active reservation
// per user and one active reservation per (room, bed).
type Reservation struct {
	ID              uint64     `json:"id"`
	UserID          uint64     `json:"user_id"`
	RoomID          uint64     `json:"room_id"`
	BedNumber       int        `json:"bed_number"`
	Status          string     `json:"status"`
	ReservedAt      time.Time  `json:"reserved_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy     *uint64    `json:"cancelled_by,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ActualCheckIn   *time.Time `json:"actual_check_in,omitempty"`
	ActualCheckOut  *time.Time `json:"actual_check_out,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ReservationView is a reservation joined with its room and user projections.
type ReservationView struct {
	Reservation
	Room RoomSummary `json:"room"`
	User UserSummary `json:"user"`
}

// ActiveAssignment pairs an active reservation with the room number it
// points at. The repair sweep reads these.
type ActiveAssignment struct {
	ReservationID uint64
	UserID        uint64
	RoomID        uint64
	RoomNumber    string
	BedNumber     int
	CreatedAt     time.Time
}

// ReservationFilter narrows the admin listing.
type ReservationFilter struct {
	Status string
	RoomID uint64
	UserID uint64
	Floor  int
	Page   int
	Limit  int
}

// ReservationStats holds per-status counters.
type ReservationStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Cancelled int `json:"cancelled"`
	Expired   int `json:"expired"`
	Today     int `json:"reserved_today"`
}

// RequestMeta carries audit details of the calling request.
type RequestMeta struct {
	PerformedBy uint64
	IPAddress   string
	UserAgent   string
	AdminNotes  string
}
