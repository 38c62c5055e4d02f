package model

import (
	"encoding/json"
	"time"
)

// History actions.
const (
	ActionReserved   = "reserved"
	ActionCancelled  = "cancelled"
	ActionCheckedIn  = "checked_in"
	ActionCheckedOut = "checked_out"
	ActionModified   = "modified"
)

// HistoryEntry is one immutable row of `reservation_history`.
type HistoryEntry struct {
	ID            uint64          `json:"id"`
	UserID        uint64          `json:"user_id"`
	RoomID        uint64          `json:"room_id"`
	ReservationID *uint64         `json:"reservation_id,omitempty"`
	Action        string          `json:"action"`
	BedNumber     int             `json:"bed_number"`
	PreviousData  json.RawMessage `json:"previous_data,omitempty"`
	NewData       json.RawMessage `json:"new_data,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	PerformedBy   uint64          `json:"performed_by"`
	PerformedAt   time.Time       `json:"performed_at"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	AdminNotes    string          `json:"admin_notes,omitempty"`
}
