// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the background consumer.
package queue

import "time"

// Event types carried in ReservationEvent.Type.
const (
	EventReserved   = "reservation.reserved"
	EventCancelled  = "reservation.cancelled"
	EventCheckedIn  = "reservation.checked_in"
	EventCheckedOut = "reservation.checked_out"
)

// DefaultQueue is the durable queue reservation events are routed to.
const DefaultQueue = "reservation.events"

// ReservationEvent is published after an allocation operation commits. It
// contains enough information for downstream consumers to log or notify
// without querying the primary database.
type ReservationEvent struct {
	Type          string    `json:"type"`
	ReservationID uint64    `json:"reservation_id"`
	UserID        uint64    `json:"user_id"`
	RoomID        uint64    `json:"room_id"`
	RoomNumber    string    `json:"room_number"`
	BedNumber     int       `json:"bed_number"`
	PerformedBy   uint64    `json:"performed_by"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
