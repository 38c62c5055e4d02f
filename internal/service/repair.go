package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

// RepairReport counts the records each sweep rewrote.
type RepairReport struct {
	AssignmentsSynced int `json:"assignments_synced"`
	OrphansReset      int `json:"orphans_reset"`
	OccupantsRemoved  int `json:"occupants_removed"`
	OccupantsRestored int `json:"occupants_restored"`
}

// Total is the repaired-record count.
func (r RepairReport) Total() int {
	return r.AssignmentsSynced + r.OrphansReset + r.OccupantsRemoved + r.OccupantsRestored
}

type bedKey struct {
	roomID uint64
	bed    int
}

// RepairDataConsistency reconciles user assignments and room occupant rows
// against the active reservations, which are the source of truth.
//
//   - every active reservation's user gets a matching assigned assignment
//   - an assigned user without an active reservation is reset to pending
//   - occupant rows without an active reservation are removed and missing
//     ones restored
//
// Each fix re-reads the reservation under the room lease first, so a sweep
// running next to live traffic does not undo a fresh write. Running it
// twice in a row rewrites nothing the second time.
func (a *Allocator) RepairDataConsistency(ctx context.Context) (report RepairReport, err error) {
	defer a.observe("repair", time.Now(), &err)

	// Occupants are read before reservations: a reservation created between
	// the two reads is then seen as active rather than as a stale occupant.
	occupants, err := a.rooms.ListAllOccupants(ctx)
	if err != nil {
		return report, fmt.Errorf("list occupants: %w", err)
	}
	actives, err := a.reservations.ListActiveAssignments(ctx)
	if err != nil {
		return report, fmt.Errorf("list active reservations: %w", err)
	}

	var errs []error
	activeByUser := make(map[uint64]model.ActiveAssignment, len(actives))
	activeByBed := make(map[bedKey]model.ActiveAssignment, len(actives))
	for _, act := range actives {
		activeByUser[act.UserID] = act
		activeByBed[bedKey{act.RoomID, act.BedNumber}] = act
	}

	// reservation -> user
	for _, act := range actives {
		fixed, err := a.syncAssignment(ctx, act)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync user %d: %w", act.UserID, err))
			continue
		}
		if fixed {
			report.AssignmentsSynced++
		}
	}

	// user -> reservation
	assigned, err := a.users.ListAssigned(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list assigned users: %w", err))
	}
	for i := range assigned {
		u := &assigned[i]
		if _, ok := activeByUser[u.ID]; ok {
			continue
		}
		fixed, err := a.resetOrphan(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset user %d: %w", u.ID, err))
			continue
		}
		if fixed {
			report.OrphansReset++
		}
	}

	// reservation <-> occupants
	present := make(map[bedKey]uint64, len(occupants))
	for _, o := range occupants {
		k := bedKey{o.RoomID, o.BedNumber}
		if act, ok := activeByBed[k]; ok && act.UserID == o.UserID {
			present[k] = o.UserID
			continue
		}
		removed, err := a.removeStaleOccupant(ctx, o)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove occupant room %d bed %d: %w", o.RoomID, o.BedNumber, err))
			continue
		}
		if removed {
			report.OccupantsRemoved++
		}
	}
	for _, act := range actives {
		k := bedKey{act.RoomID, act.BedNumber}
		if _, ok := present[k]; ok {
			continue
		}
		restored, err := a.restoreOccupant(ctx, act)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore occupant room %d bed %d: %w", act.RoomID, act.BedNumber, err))
			continue
		}
		if restored {
			report.OccupantsRestored++
		}
	}

	a.metrics.Repaired("assignments", report.AssignmentsSynced)
	a.metrics.Repaired("orphans", report.OrphansReset)
	a.metrics.Repaired("occupants_removed", report.OccupantsRemoved)
	a.metrics.Repaired("occupants_restored", report.OccupantsRestored)
	a.log.Info("repair sweep finished",
		zap.Int("assignments_synced", report.AssignmentsSynced),
		zap.Int("orphans_reset", report.OrphansReset),
		zap.Int("occupants_removed", report.OccupantsRemoved),
		zap.Int("occupants_restored", report.OccupantsRestored),
		zap.Int("errors", len(errs)))
	return report, errors.Join(errs...)
}

// stillActive reports whether the reservation is still active.
func (a *Allocator) stillActive(ctx context.Context, id uint64) (bool, error) {
	res, err := a.reservations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Status == model.StatusActive, nil
}

func (a *Allocator) syncAssignment(ctx context.Context, act model.ActiveAssignment) (bool, error) {
	user, err := a.users.GetByID(ctx, act.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user.RoomAssignment.Matches(act.RoomNumber) {
		return false, nil
	}

	unlock, err := a.locker.Lock(ctx, act.RoomID)
	if err != nil {
		return false, err
	}
	defer unlock()
	if ok, err := a.stillActive(ctx, act.ReservationID); err != nil || !ok {
		return false, err
	}

	number := act.RoomNumber
	assignedAt := act.CreatedAt
	if user.RoomAssignment.AssignedAt != nil && user.RoomAssignment.RoomNumber != nil && *user.RoomAssignment.RoomNumber == number {
		assignedAt = *user.RoomAssignment.AssignedAt
	}
	if err := a.users.SetRoomAssignment(ctx, act.UserID, model.RoomAssignment{
		RoomNumber: &number,
		AssignedAt: &assignedAt,
		Status:     model.AssignmentAssigned,
	}); err != nil {
		return false, err
	}
	a.log.Info("assignment synced to reservation",
		zap.Uint64("user_id", act.UserID), zap.Uint64("reservation_id", act.ReservationID), zap.String("room_number", number))
	return true, nil
}

func (a *Allocator) resetOrphan(ctx context.Context, u *model.User) (bool, error) {
	// a reservation may have been created since the sweep started
	active, err := a.reservations.FindActiveByUser(ctx, u.ID)
	if err != nil {
		return false, err
	}
	if active != nil {
		return false, nil
	}
	if err := a.users.SetRoomAssignment(ctx, u.ID, model.PendingAssignment()); err != nil {
		return false, err
	}
	number := ""
	if u.RoomAssignment.RoomNumber != nil {
		number = *u.RoomAssignment.RoomNumber
	}
	a.log.Info("orphaned assignment reset", zap.Uint64("user_id", u.ID), zap.String("room_number", number))
	return true, nil
}

func (a *Allocator) removeStaleOccupant(ctx context.Context, o repository.OccupancyRow) (bool, error) {
	unlock, err := a.locker.Lock(ctx, o.RoomID)
	if err != nil {
		return false, err
	}
	defer unlock()

	active, err := a.reservations.FindActiveByUser(ctx, o.UserID)
	if err != nil {
		return false, err
	}
	if active != nil && active.RoomID == o.RoomID && active.BedNumber == o.BedNumber {
		return false, nil
	}
	n, err := a.rooms.RemoveOccupant(ctx, o.RoomID, o.UserID, o.BedNumber)
	if err != nil {
		return false, err
	}
	if n > 0 {
		a.log.Info("stale occupant removed",
			zap.Uint64("room_id", o.RoomID), zap.Uint64("user_id", o.UserID), zap.Int("bed_number", o.BedNumber))
	}
	return n > 0, nil
}

func (a *Allocator) restoreOccupant(ctx context.Context, act model.ActiveAssignment) (bool, error) {
	unlock, err := a.locker.Lock(ctx, act.RoomID)
	if err != nil {
		return false, err
	}
	defer unlock()
	if ok, err := a.stillActive(ctx, act.ReservationID); err != nil || !ok {
		return false, err
	}

	err = a.rooms.AddOccupant(ctx, act.RoomID, model.Occupant{UserID: act.UserID, BedNumber: act.BedNumber, AssignedAt: act.CreatedAt})
	if errors.Is(err, repository.ErrBedTaken) {
		a.log.Warn("occupant restore skipped, bed taken",
			zap.Uint64("room_id", act.RoomID), zap.Int("bed_number", act.BedNumber), zap.Uint64("reservation_id", act.ReservationID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	a.log.Info("missing occupant restored",
		zap.Uint64("room_id", act.RoomID), zap.Uint64("user_id", act.UserID), zap.Int("bed_number", act.BedNumber))
	return true, nil
}
