package service

import (
	"errors"
	"fmt"
)

// Domain errors returned by the allocation service. All of them are expected
// outcomes that the route layer maps to a status code and message.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomInactive         = fmt.Errorf("%w: room is inactive", ErrRoomNotFound)
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrDuplicateReservation = errors.New("user already has an active reservation")
	ErrBedOccupied          = errors.New("bed is already occupied")
	ErrRoomFull             = errors.New("room is full")
	ErrInvalidBedNumber     = errors.New("invalid bed number")
	ErrGenderMismatch       = errors.New("room gender does not match user")
	ErrNotActive            = errors.New("reservation is not active")
	ErrNoAssignment         = errors.New("user has no room assignment")
	ErrAlreadyCheckedIn     = errors.New("reservation already checked in")
	ErrNotCheckedIn         = errors.New("reservation not checked in")
	ErrAlreadyCheckedOut    = errors.New("reservation already checked out")
	ErrRoomOccupied         = errors.New("room still has occupants")
	ErrRoomGenderLocked     = errors.New("cannot change gender of an occupied room")
	ErrCapacityBelowBed     = errors.New("capacity below an occupied bed")
	ErrRoomsExist           = errors.New("rooms already initialized")

	// ErrRoomBusy is returned when the room lease could not be taken within
	// the configured wait.
	ErrRoomBusy = errors.New("room is busy, retry shortly")

	// ErrCancelIncomplete wraps a store failure after the reservation was
	// already marked cancelled. The repair sweep restores consistency.
	ErrCancelIncomplete = errors.New("cancellation partially applied")
)

func invalidBed(capacity int) error {
	return fmt.Errorf("%w: must be between 1 and %d", ErrInvalidBedNumber, capacity)
}

// outcome maps an error to a stable metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRoomInactive):
		return "room_inactive"
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrReservationNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateReservation):
		return "duplicate"
	case errors.Is(err, ErrBedOccupied):
		return "bed_occupied"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrInvalidBedNumber):
		return "invalid_bed"
	case errors.Is(err, ErrGenderMismatch):
		return "gender_mismatch"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrNoAssignment):
		return "no_assignment"
	case errors.Is(err, ErrAlreadyCheckedIn), errors.Is(err, ErrNotCheckedIn), errors.Is(err, ErrAlreadyCheckedOut):
		return "check_state"
	case errors.Is(err, ErrRoomOccupied), errors.Is(err, ErrRoomGenderLocked), errors.Is(err, ErrCapacityBelowBed):
		return "room_occupied"
	case errors.Is(err, ErrRoomBusy):
		return "busy"
	case errors.Is(err, ErrCancelIncomplete):
		return "incomplete"
	}
	return "error"
}
