package model

import "time"

// ReservationSettings is the singleton row describing the reservation window.
type ReservationSettings struct {
	OpenAt      time.Time `json:"open_date_time"`
	ManualOpen  bool      `json:"is_reservation_open"`
	Description string    `json:"description"`
	CreatedBy   *uint64   `json:"created_by,omitempty"`
	UpdatedBy   *uint64   `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
