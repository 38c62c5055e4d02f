// Package service contains the allocation logic that keeps reservations,
// room occupant lists and user room assignments in step.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/queue"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

// Reasons recorded on cancellations the system performs on a user's behalf.
const (
	ReasonAdminCancel    = "cancelled by administrator"
	ReasonAccountDeleted = "account deleted"
	ReasonRoomDisabled   = "room deactivated"
)

// Allocator moves a user between "no reservation" and "active reservation"
// with the reservation row, the room occupant list and the user's room
// assignment kept in sync. The stores offer no shared transaction, so each
// operation is a sequence of writes; CreateReservation compensates on
// failure and the repair sweep heals whatever is left behind.
type Allocator struct {
	users        UserStore
	rooms        RoomStore
	reservations ReservationStore
	history      HistoryStore

	locker  RoomLocker
	events  EventPublisher
	now     func() time.Time
	log     *zap.Logger
	metrics *allocationMetrics
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithLocker sets the per-room lease used around write sequences.
func WithLocker(l RoomLocker) Option {
	return func(a *Allocator) {
		if l != nil {
			a.locker = l
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(a *Allocator) {
		if p != nil {
			a.events = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAllocator wires the allocator to its stores.
func NewAllocator(users UserStore, rooms RoomStore, reservations ReservationStore, history HistoryStore, opts ...Option) *Allocator {
	a := &Allocator{
		users:        users,
		rooms:        rooms,
		reservations: reservations,
		history:      history,
		locker:       NopLocker{},
		events:       nopPublisher{},
		now:          func() time.Time { return time.Now().UTC() },
		log:          zap.NewNop(),
		metrics:      Metrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) observe(op string, start time.Time, err *error) {
	a.metrics.Observe(op, *err, time.Since(start))
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

type undoStack []undoStep

func (s *undoStack) push(name string, fn func(ctx context.Context) error) {
	*s = append(*s, undoStep{name: name, fn: fn})
}

// rollback runs the undo steps newest first. A cancelled request context
// must not stop the undo, so the steps run detached from its cancellation.
// Every step runs even when an earlier one fails.
func (a *Allocator) rollback(ctx context.Context, steps undoStack, cause error, fields ...zap.Field) {
	ctx = context.WithoutCancel(ctx)
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		err := st.fn(ctx)
		a.metrics.Compensation(st.name, err)
		if err != nil {
			a.log.Error("compensation failed, repair sweep required",
				append(fields, zap.String("step", st.name), zap.NamedError("cause", cause), zap.Error(err))...)
		}
	}
}

func (a *Allocator) loadUser(ctx context.Context, id uint64) (*model.User, error) {
	u, err := a.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.DeletedAt != nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (a *Allocator) loadRoom(ctx context.Context, id uint64) (*model.Room, error) {
	rm, err := a.rooms.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	return rm, nil
}

func (a *Allocator) loadReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := a.reservations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return res, nil
}

func (a *Allocator) publish(ctx context.Context, ev queue.ReservationEvent) {
	if err := a.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		a.log.Warn("publish reservation event failed",
			zap.String("type", ev.Type), zap.Uint64("reservation_id", ev.ReservationID), zap.Error(err))
	}
}

func snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func performer(meta model.RequestMeta, fallback uint64) uint64 {
	if meta.PerformedBy != 0 {
		return meta.PerformedBy
	}
	return fallback
}

// CreateReservation claims bed in roomID for userID. Validation failures
// return the matching domain error without writing anything. Once the
// reservation row exists, any later failure undoes the completed writes in
// reverse order and returns the original error.
func (a *Allocator) CreateReservation(ctx context.Context, userID, roomID uint64, bed int, specialRequests string, meta model.RequestMeta) (view *model.ReservationView, err error) {
	defer a.observe("reserve", time.Now(), &err)

	unlock, err := a.locker.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	release := sync.OnceFunc(unlock)
	defer release()

	user, err := a.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, err := a.reservations.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find active reservation: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateReservation
	}
	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomInactive
	}
	if !room.AcceptsGender(user.Gender) {
		return nil, ErrGenderMismatch
	}
	if bed < 1 || bed > room.Capacity {
		return nil, invalidBed(room.Capacity)
	}
	if room.BedTaken(bed) {
		return nil, ErrBedOccupied
	}
	if room.IsFull() {
		return nil, ErrRoomFull
	}

	now := a.now()
	res := &model.Reservation{
		UserID:          userID,
		RoomID:          roomID,
		BedNumber:       bed,
		Status:          model.StatusActive,
		ReservedAt:      now,
		SpecialRequests: specialRequests,
		Notes:           meta.AdminNotes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.reservations.Create(ctx, res); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateActiveUser):
			return nil, ErrDuplicateReservation
		case errors.Is(err, repository.ErrDuplicateActiveBed):
			return nil, ErrBedOccupied
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	var undo undoStack
	undo.push("delete_reservation", func(ctx context.Context) error {
		return a.reservations.Delete(ctx, res.ID)
	})
	defer func() {
		if err != nil {
			a.rollback(ctx, undo, err,
				zap.Uint64("reservation_id", res.ID), zap.Uint64("user_id", userID),
				zap.Uint64("room_id", roomID), zap.Int("bed_number", bed))
		}
	}()

	if err = a.rooms.AddOccupant(ctx, roomID, model.Occupant{UserID: userID, BedNumber: bed, AssignedAt: now}); err != nil {
		if errors.Is(err, repository.ErrBedTaken) {
			err = ErrBedOccupied
		} else {
			err = fmt.Errorf("add occupant: %w", err)
		}
		return nil, err
	}
	undo.push("remove_occupant", func(ctx context.Context) error {
		_, err := a.rooms.RemoveOccupant(ctx, roomID, userID, bed)
		return err
	})

	number := room.RoomNumber
	assignment := model.RoomAssignment{RoomNumber: &number, AssignedAt: &now, Status: model.AssignmentAssigned}
	if err = a.users.SetRoomAssignment(ctx, userID, assignment); err != nil {
		err = fmt.Errorf("set room assignment: %w", err)
		return nil, err
	}
	undo.push("reset_assignment", func(ctx context.Context) error {
		return a.users.SetRoomAssignment(ctx, userID, model.PendingAssignment())
	})

	id := res.ID
	entry := &model.HistoryEntry{
		UserID:        userID,
		RoomID:        roomID,
		ReservationID: &id,
		Action:        model.ActionReserved,
		BedNumber:     bed,
		NewData: snapshot(map[string]any{
			"room_number": room.RoomNumber,
			"bed_number":  bed,
			"status":      model.StatusActive,
		}),
		PerformedBy: performer(meta, userID),
		PerformedAt: now,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		AdminNotes:  meta.AdminNotes,
	}
	if err = a.history.Append(ctx, entry); err != nil {
		err = fmt.Errorf("append history: %w", err)
		return nil, err
	}

	a.log.Info("reservation created",
		zap.Uint64("reservation_id", res.ID), zap.Uint64("user_id", userID),
		zap.String("room_number", room.RoomNumber), zap.Int("bed_number", bed))
	// events go out after the lease is released
	release()
	a.publish(ctx, queue.ReservationEvent{
		Type:          queue.EventReserved,
		ReservationID: res.ID,
		UserID:        userID,
		RoomID:        roomID,
		RoomNumber:    room.RoomNumber,
		BedNumber:     bed,
		PerformedBy:   entry.PerformedBy,
		OccurredAt:    now,
	})

	return &model.ReservationView{Reservation: *res, Room: room.Summary(), User: user.Summary()}, nil
}

// CancelReservation releases the bed held by an active reservation. There is
// no compensation: once the reservation is marked cancelled a failing later
// step is reported as ErrCancelIncomplete and left to the repair sweep.
func (a *Allocator) CancelReservation(ctx context.Context, reservationID, cancelledBy uint64, reason string, meta model.RequestMeta) (err error) {
	defer a.observe("cancel", time.Now(), &err)

	res, err := a.loadReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != model.StatusActive {
		return ErrNotActive
	}

	unlock, err := a.locker.Lock(ctx, res.RoomID)
	if err != nil {
		return err
	}
	release := sync.OnceFunc(unlock)
	defer release()

	ev, err := a.cancelLocked(ctx, res, cancelledBy, reason, meta)
	release()
	if ev != nil {
		a.publish(ctx, *ev)
	}
	return err
}

// cancelLocked runs the cancel sequence; the caller holds the room lease.
// The returned event is published by the caller once the lease is released.
func (a *Allocator) cancelLocked(ctx context.Context, res *model.Reservation, cancelledBy uint64, reason string, meta model.RequestMeta) (*queue.ReservationEvent, error) {
	now := a.now()
	if err := a.reservations.MarkCancelled(ctx, res.ID, cancelledBy, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// lost a race with another cancellation
			return nil, ErrNotActive
		}
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}

	fields := []zap.Field{
		zap.Uint64("reservation_id", res.ID), zap.Uint64("user_id", res.UserID),
		zap.Uint64("room_id", res.RoomID), zap.Int("bed_number", res.BedNumber),
	}
	incomplete := func(step string, err error) error {
		a.log.Error("cancellation incomplete, repair sweep required",
			append(fields, zap.String("step", step), zap.Error(err))...)
		return fmt.Errorf("%w (%s): %w", ErrCancelIncomplete, step, err)
	}

	if _, err := a.rooms.RemoveOccupant(ctx, res.RoomID, res.UserID, res.BedNumber); err != nil {
		return nil, incomplete("remove_occupant", err)
	}
	if err := a.users.SetRoomAssignment(ctx, res.UserID, model.PendingAssignment()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, incomplete("reset_assignment", err)
	}

	roomNumber := ""
	if rm, err := a.rooms.GetByID(ctx, res.RoomID); err == nil {
		roomNumber = rm.RoomNumber
	}
	id := res.ID
	entry := &model.HistoryEntry{
		UserID:        res.UserID,
		RoomID:        res.RoomID,
		ReservationID: &id,
		Action:        model.ActionCancelled,
		BedNumber:     res.BedNumber,
		PreviousData: snapshot(map[string]any{
			"room_number": roomNumber,
			"bed_number":  res.BedNumber,
			"status":      model.StatusActive,
		}),
		NewData:     snapshot(map[string]any{"status": model.StatusCancelled}),
		Reason:      reason,
		PerformedBy: cancelledBy,
		PerformedAt: now,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		AdminNotes:  meta.AdminNotes,
	}
	if err := a.history.Append(ctx, entry); err != nil {
		return nil, incomplete("append_history", err)
	}

	a.log.Info("reservation cancelled", append(fields, zap.String("reason", reason))...)
	return &queue.ReservationEvent{
		Type:          queue.EventCancelled,
		ReservationID: res.ID,
		UserID:        res.UserID,
		RoomID:        res.RoomID,
		RoomNumber:    roomNumber,
		BedNumber:     res.BedNumber,
		PerformedBy:   cancelledBy,
		Reason:        reason,
		OccurredAt:    now,
	}, nil
}

// CancelRoomAssignmentByAdmin releases whatever bed userID holds. With an
// active reservation it delegates to CancelReservation. An assignment with
// no backing reservation is cleared directly and, having no reservation to
// reference, leaves no history row.
func (a *Allocator) CancelRoomAssignmentByAdmin(ctx context.Context, userID, adminID uint64, meta model.RequestMeta) (err error) {
	defer a.observe("admin_cancel", time.Now(), &err)

	user, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	active, err := a.reservations.FindActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("find active reservation: %w", err)
	}
	if active != nil {
		if meta.PerformedBy == 0 {
			meta.PerformedBy = adminID
		}
		return a.CancelReservation(ctx, active.ID, adminID, ReasonAdminCancel, meta)
	}

	ra := user.RoomAssignment
	if ra.Status == model.AssignmentPending || ra.RoomNumber == nil {
		return ErrNoAssignment
	}
	return a.clearOrphan(ctx, user)
}

// clearOrphan removes the occupant rows and assignment of a user that has no
// active reservation.
func (a *Allocator) clearOrphan(ctx context.Context, user *model.User) error {
	number := ""
	if user.RoomAssignment.RoomNumber != nil {
		number = *user.RoomAssignment.RoomNumber
		if _, err := a.rooms.RemoveUserFromRoomNumber(ctx, number, user.ID); err != nil {
			return fmt.Errorf("remove occupant: %w", err)
		}
	}
	if err := a.users.SetRoomAssignment(ctx, user.ID, model.PendingAssignment()); err != nil {
		return fmt.Errorf("reset assignment: %w", err)
	}
	a.log.Info("orphaned room assignment cleared", zap.Uint64("user_id", user.ID), zap.String("room_number", number))
	return nil
}

// DeleteUser releases the user's bed and soft-deletes the account.
func (a *Allocator) DeleteUser(ctx context.Context, userID, adminID uint64, meta model.RequestMeta) (err error) {
	defer a.observe("delete_user", time.Now(), &err)

	user, err := a.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	active, err := a.reservations.FindActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("find active reservation: %w", err)
	}
	if active != nil {
		if err := a.CancelReservation(ctx, active.ID, adminID, ReasonAccountDeleted, meta); err != nil {
			return err
		}
	} else if user.RoomAssignment.RoomNumber != nil {
		if err := a.clearOrphan(ctx, user); err != nil {
			return err
		}
	}
	if err := a.users.SoftDelete(ctx, userID, a.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("soft delete: %w", err)
	}
	a.log.Info("user deleted", zap.Uint64("user_id", userID), zap.Uint64("admin_id", adminID))
	return nil
}

// DeactivateRoom cancels every reservation in the room, drops occupant rows
// without one and marks the room inactive. It returns the number of beds
// released. The room is deactivated even when some releases fail; those
// failures are joined into the returned error.
func (a *Allocator) DeactivateRoom(ctx context.Context, roomID, adminID uint64, meta model.RequestMeta) (released int, err error) {
	defer a.observe("deactivate_room", time.Now(), &err)

	unlock, err := a.locker.Lock(ctx, roomID)
	if err != nil {
		return 0, err
	}
	release := sync.OnceFunc(unlock)
	defer release()

	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}

	var errs []error
	var events []queue.ReservationEvent
	for _, o := range room.Occupants {
		active, err := a.reservations.FindActiveByUser(ctx, o.UserID)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", o.UserID, err))
			continue
		}
		if active != nil && active.RoomID == roomID {
			ev, err := a.cancelLocked(ctx, active, adminID, ReasonRoomDisabled, meta)
			if err != nil {
				errs = append(errs, fmt.Errorf("user %d: %w", o.UserID, err))
				continue
			}
			events = append(events, *ev)
			released++
			continue
		}
		if _, err := a.rooms.RemoveOccupant(ctx, roomID, o.UserID, o.BedNumber); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", o.UserID, err))
			continue
		}
		if u, err := a.users.GetByID(ctx, o.UserID); err == nil && u.RoomAssignment.Matches(room.RoomNumber) {
			if err := a.users.SetRoomAssignment(ctx, o.UserID, model.PendingAssignment()); err != nil {
				errs = append(errs, fmt.Errorf("user %d: %w", o.UserID, err))
			}
		}
		released++
	}

	if err := a.rooms.SetActive(ctx, roomID, false); err != nil {
		errs = append(errs, fmt.Errorf("deactivate: %w", err))
	}
	a.log.Info("room deactivated", zap.Uint64("room_id", roomID), zap.Int("released", released))
	release()
	for _, ev := range events {
		a.publish(ctx, ev)
	}
	return released, errors.Join(errs...)
}

// UpdateRoom applies an admin edit while holding the room lease, so no
// reservation can claim a bed between the checks and the write. The gender
// of an occupied room is fixed and capacity cannot drop below an occupied
// bed.
func (a *Allocator) UpdateRoom(ctx context.Context, roomID uint64, u repository.RoomUpdate) (err error) {
	defer a.observe("update_room", time.Now(), &err)

	unlock, err := a.locker.Lock(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if u.Gender != nil && *u.Gender != room.Gender && len(room.Occupants) > 0 {
		return ErrRoomGenderLocked
	}
	if u.Capacity != nil {
		for _, o := range room.Occupants {
			if o.BedNumber > *u.Capacity {
				return ErrCapacityBelowBed
			}
		}
	}
	switch err := a.rooms.Update(ctx, roomID, u); {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrCapacityBelowBed
	case err != nil:
		return fmt.Errorf("update room: %w", err)
	}
	return nil
}

// DeleteRoom removes a room with no occupants and no active reservation.
// Cancelled history does not block it. A blocked delete returns
// ErrRoomOccupied.
func (a *Allocator) DeleteRoom(ctx context.Context, roomID uint64) (err error) {
	defer a.observe("delete_room", time.Now(), &err)

	unlock, err := a.locker.Lock(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	room, err := a.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if len(room.Occupants) > 0 {
		return ErrRoomOccupied
	}
	switch err := a.rooms.Delete(ctx, roomID); {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrRoomOccupied
	case err != nil:
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// CheckIn records the arrival of an active reservation's holder.
func (a *Allocator) CheckIn(ctx context.Context, reservationID, adminID uint64, meta model.RequestMeta) (res *model.Reservation, err error) {
	defer a.observe("check_in", time.Now(), &err)

	res, err = a.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusActive {
		return nil, ErrNotActive
	}
	if res.ActualCheckIn != nil {
		return nil, ErrAlreadyCheckedIn
	}
	now := a.now()
	if err := a.reservations.SetCheckIn(ctx, res.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotActive
		}
		return nil, fmt.Errorf("set check-in: %w", err)
	}
	res.ActualCheckIn = &now
	a.recordStay(ctx, res, model.ActionCheckedIn, queue.EventCheckedIn, adminID, now, meta)
	return res, nil
}

// CheckOut records the departure of a checked-in reservation's holder.
func (a *Allocator) CheckOut(ctx context.Context, reservationID, adminID uint64, meta model.RequestMeta) (res *model.Reservation, err error) {
	defer a.observe("check_out", time.Now(), &err)

	res, err = a.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusActive {
		return nil, ErrNotActive
	}
	if res.ActualCheckIn == nil {
		return nil, ErrNotCheckedIn
	}
	if res.ActualCheckOut != nil {
		return nil, ErrAlreadyCheckedOut
	}
	now := a.now()
	if err := a.reservations.SetCheckOut(ctx, res.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotActive
		}
		return nil, fmt.Errorf("set check-out: %w", err)
	}
	res.ActualCheckOut = &now
	a.recordStay(ctx, res, model.ActionCheckedOut, queue.EventCheckedOut, adminID, now, meta)
	return res, nil
}

// recordStay appends the history row of a check-in or check-out. The
// timestamp is already stored, so a history failure is only logged.
func (a *Allocator) recordStay(ctx context.Context, res *model.Reservation, action, event string, by uint64, at time.Time, meta model.RequestMeta) {
	id := res.ID
	entry := &model.HistoryEntry{
		UserID:        res.UserID,
		RoomID:        res.RoomID,
		ReservationID: &id,
		Action:        action,
		BedNumber:     res.BedNumber,
		NewData:       snapshot(map[string]any{"at": at}),
		PerformedBy:   by,
		PerformedAt:   at,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		AdminNotes:    meta.AdminNotes,
	}
	if err := a.history.Append(ctx, entry); err != nil {
		a.log.Error("append history failed", zap.String("action", action), zap.Uint64("reservation_id", id), zap.Error(err))
	}
	a.publish(ctx, queue.ReservationEvent{
		Type:          event,
		ReservationID: res.ID,
		UserID:        res.UserID,
		RoomID:        res.RoomID,
		BedNumber:     res.BedNumber,
		PerformedBy:   by,
		OccurredAt:    at,
	})
}
