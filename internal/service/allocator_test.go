package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/queue"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

func TestCreateReservation_CapacityThreeMaleRoomScenario(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addUser(2, model.GenderMale)
	w.addUser(3, model.GenderFemale)
	w.addRoom(10, "301", 3, model.GenderMale)
	pub := &recordingPublisher{}
	a := newTestAllocator(w, WithPublisher(pub))
	ctx := context.Background()

	view, err := a.CreateReservation(ctx, 1, 10, 1, "lower bunk", model.RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, view.Status)
	assert.Equal(t, "301", view.Room.RoomNumber)
	assert.Equal(t, uint64(1), view.User.ID)
	require.Len(t, w.occupants(10), 1)
	assert.Equal(t, model.Occupant{UserID: 1, BedNumber: 1, AssignedAt: fixedNow}, w.occupants(10)[0])

	a1 := w.user(1).RoomAssignment
	assert.True(t, a1.Matches("301"))
	require.NotNil(t, a1.AssignedAt)
	assert.Equal(t, fixedNow, *a1.AssignedAt)

	_, err = a.CreateReservation(ctx, 2, 10, 1, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrBedOccupied)

	_, err = a.CreateReservation(ctx, 3, 10, 2, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrGenderMismatch)

	require.NoError(t, a.CancelReservation(ctx, view.ID, 1, "changed plans", model.RequestMeta{}))
	assert.Empty(t, w.occupants(10))
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)

	require.Len(t, w.history, 2)
	assert.Equal(t, model.ActionReserved, w.history[0].Action)
	assert.Equal(t, "10.0.0.1", w.history[0].IPAddress)
	assert.Equal(t, model.ActionCancelled, w.history[1].Action)
	assert.Equal(t, "changed plans", w.history[1].Reason)
	assert.Equal(t, []string{queue.EventReserved, queue.EventCancelled}, pub.types())
}

func TestCreateReservation_DuplicateLeavesNoTrace(t *testing.T) {
	w := newWorld()
	w.addUser(4, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	w.addRoom(11, "202", 2, model.GenderMale)
	a := newTestAllocator(w)
	ctx := context.Background()

	_, err := a.CreateReservation(ctx, 4, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)
	before := w.user(4).RoomAssignment

	_, err = a.CreateReservation(ctx, 4, 11, 1, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
	assert.Empty(t, w.occupants(11))
	assert.Equal(t, before, w.user(4).RoomAssignment)
	assert.Equal(t, 1, w.reservationCount())
}

func TestCreateReservation_Validation(t *testing.T) {
	tests := []struct {
		name   string
		userID uint64
		roomID uint64
		bed    int
		setup  func(w *world)
		want   error
	}{
		{name: "unknown user", userID: 99, roomID: 10, bed: 1, want: ErrUserNotFound},
		{name: "unknown room", userID: 1, roomID: 99, bed: 1, want: ErrRoomNotFound},
		{name: "inactive room", userID: 1, roomID: 10, bed: 1, setup: func(w *world) { w.rooms[10].IsActive = false }, want: ErrRoomInactive},
		{name: "bed zero", userID: 1, roomID: 10, bed: 0, want: ErrInvalidBedNumber},
		{name: "bed above capacity", userID: 1, roomID: 10, bed: 3, want: ErrInvalidBedNumber},
		{name: "deleted user", userID: 1, roomID: 10, bed: 1, setup: func(w *world) { w.users[1].DeletedAt = &fixedNow }, want: ErrUserNotFound},
		{name: "room full", userID: 1, roomID: 10, bed: 2, setup: func(w *world) {
			// beds taken by stale rows outside the bed range still count
			w.rooms[10].Occupants = []model.Occupant{{UserID: 7, BedNumber: 1}, {UserID: 8, BedNumber: 5}}
		}, want: ErrRoomFull},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld()
			w.addUser(1, model.GenderFemale)
			w.addRoom(10, "202", 2, model.GenderShared)
			if tc.setup != nil {
				tc.setup(w)
			}
			a := newTestAllocator(w)
			_, err := a.CreateReservation(context.Background(), tc.userID, tc.roomID, tc.bed, "", model.RequestMeta{})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, w.reservationCount())
		})
	}
}

func TestCreateReservation_InactiveRoomIsRoomNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrRoomInactive, ErrRoomNotFound)
}

func TestCreateReservation_CompensatesInReverseOrder(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	boom := errors.New("history store down")
	w.fail["history.Append"] = boom

	core, logs := observer.New(zap.ErrorLevel)
	a := newTestAllocator(w, WithLogger(zap.New(core)))

	_, err := a.CreateReservation(context.Background(), 1, 10, 1, "", model.RequestMeta{})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, w.reservationCount())
	assert.Empty(t, w.occupants(10))
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
	assert.Zero(t, logs.Len())

	var undo []string
	for _, c := range w.calls {
		switch c {
		case "users.SetRoomAssignment", "rooms.RemoveOccupant", "reservations.Delete":
			undo = append(undo, c)
		}
	}
	// first SetRoomAssignment is the forward write
	assert.Equal(t, []string{"users.SetRoomAssignment", "users.SetRoomAssignment", "rooms.RemoveOccupant", "reservations.Delete"}, undo)
}

func TestCreateReservation_OccupantRaceBecomesBedOccupied(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	a := newTestAllocator(w)

	// another request won the bed between validation and the occupant insert
	a.rooms = fakeRoomsRacing{fakeRooms: fakeRooms{w}}

	_, err := a.CreateReservation(context.Background(), 1, 10, 1, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrBedOccupied)
	assert.Equal(t, 0, w.reservationCount())
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
}

// fakeRoomsRacing lets a competing occupant land on the bed right before the
// allocator's own insert.
type fakeRoomsRacing struct{ fakeRooms }

func (f fakeRoomsRacing) AddOccupant(ctx context.Context, roomID uint64, o model.Occupant) error {
	_ = f.fakeRooms.AddOccupant(ctx, roomID, model.Occupant{UserID: 77, BedNumber: o.BedNumber})
	return f.fakeRooms.AddOccupant(ctx, roomID, o)
}

func TestCreateReservation_CompensationFailureIsLogged(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	w.fail["history.Append"] = errors.New("history down")
	w.fail["reservations.Delete"] = errors.New("db gone")

	core, logs := observer.New(zap.ErrorLevel)
	a := newTestAllocator(w, WithLogger(zap.New(core)))

	_, err := a.CreateReservation(context.Background(), 1, 10, 1, "", model.RequestMeta{})
	require.EqualError(t, err, "append history: history down")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "compensation failed, repair sweep required", entry.Message)
	assert.Equal(t, "delete_reservation", entry.ContextMap()["step"])
	// the reservation row stays behind for the repair sweep
	assert.Equal(t, 1, w.reservationCount())
}

func TestCreateReservation_AdminActorRecorded(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	a := newTestAllocator(w)

	_, err := a.CreateReservation(context.Background(), 1, 10, 2, "", model.RequestMeta{PerformedBy: 500, AdminNotes: "assigned by office"})
	require.NoError(t, err)
	require.Len(t, w.history, 1)
	assert.Equal(t, uint64(500), w.history[0].PerformedBy)
	assert.Equal(t, "assigned by office", w.history[0].AdminNotes)
	require.Equal(t, 1, w.reservationCount())
	for _, r := range w.reservations {
		assert.Equal(t, "assigned by office", r.Notes)
	}
}

func TestCancelReservation_Errors(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	id := w.putReservation(model.Reservation{UserID: 1, RoomID: 10, BedNumber: 1, Status: model.StatusCancelled})
	a := newTestAllocator(w)

	assert.ErrorIs(t, a.CancelReservation(context.Background(), 424242, 1, "", model.RequestMeta{}), ErrReservationNotFound)
	assert.ErrorIs(t, a.CancelReservation(context.Background(), id, 1, "", model.RequestMeta{}), ErrNotActive)
}

func TestCancelReservation_PartialFailureIsReported(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	a := newTestAllocator(w)
	view, err := a.CreateReservation(context.Background(), 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)

	boom := errors.New("users table locked")
	w.fail["users.SetRoomAssignment"] = boom
	err = a.CancelReservation(context.Background(), view.ID, 1, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrCancelIncomplete)
	assert.ErrorIs(t, err, boom)

	// no compensation: the reservation stays cancelled and the bed released
	res, _ := fakeReservations{w}.GetByID(context.Background(), view.ID)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Empty(t, w.occupants(10))
	assert.Equal(t, model.AssignmentAssigned, w.user(1).RoomAssignment.Status)

	delete(w.fail, "users.SetRoomAssignment")
	report, err := a.RepairDataConsistency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansReset)
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
}

func TestCancelRoomAssignmentByAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to cancel", func(t *testing.T) {
		w := newWorld()
		w.addUser(1, model.GenderMale)
		w.addRoom(10, "201", 2, model.GenderMale)
		a := newTestAllocator(w)
		view, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
		require.NoError(t, err)

		require.NoError(t, a.CancelRoomAssignmentByAdmin(ctx, 1, 900, model.RequestMeta{}))
		res, _ := fakeReservations{w}.GetByID(ctx, view.ID)
		assert.Equal(t, model.StatusCancelled, res.Status)
		require.NotNil(t, res.CancelledBy)
		assert.Equal(t, uint64(900), *res.CancelledBy)
		assert.Equal(t, ReasonAdminCancel, res.CancelReason)
		assert.Len(t, w.history, 2)
	})

	t.Run("orphan is cleared without history", func(t *testing.T) {
		w := newWorld()
		u := w.addUser(1, model.GenderMale)
		rm := w.addRoom(10, "201", 2, model.GenderMale)
		number := "201"
		u.RoomAssignment = model.RoomAssignment{RoomNumber: &number, AssignedAt: &fixedNow, Status: model.AssignmentAssigned}
		rm.Occupants = []model.Occupant{{UserID: 1, BedNumber: 2}}
		a := newTestAllocator(w)

		require.NoError(t, a.CancelRoomAssignmentByAdmin(ctx, 1, 900, model.RequestMeta{}))
		assert.Empty(t, w.occupants(10))
		assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
		assert.Empty(t, w.history)
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		w := newWorld()
		w.addUser(1, model.GenderMale)
		a := newTestAllocator(w)
		assert.ErrorIs(t, a.CancelRoomAssignmentByAdmin(ctx, 1, 900, model.RequestMeta{}), ErrNoAssignment)
		assert.ErrorIs(t, a.CancelRoomAssignmentByAdmin(ctx, 2, 900, model.RequestMeta{}), ErrUserNotFound)
	})
}

func TestDeleteUser_ReleasesBed(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	a := newTestAllocator(w)
	ctx := context.Background()
	view, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, a.DeleteUser(ctx, 1, 900, model.RequestMeta{}))
	res, _ := fakeReservations{w}.GetByID(ctx, view.ID)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Equal(t, ReasonAccountDeleted, res.CancelReason)
	assert.Empty(t, w.occupants(10))
	assert.NotNil(t, w.user(1).DeletedAt)

	assert.ErrorIs(t, a.DeleteUser(ctx, 1, 900, model.RequestMeta{}), ErrUserNotFound)
}

func TestDeactivateRoom_CancelsEveryOccupant(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderFemale)
	w.addUser(2, model.GenderFemale)
	w.addUser(3, model.GenderFemale)
	w.addRoom(10, "203", 3, model.GenderFemale)
	a := newTestAllocator(w)
	ctx := context.Background()
	_, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)
	_, err = a.CreateReservation(ctx, 2, 10, 2, "", model.RequestMeta{})
	require.NoError(t, err)
	// stale occupant row with no reservation
	w.rooms[10].Occupants = append(w.rooms[10].Occupants, model.Occupant{UserID: 3, BedNumber: 3})

	released, err := a.DeactivateRoom(ctx, 10, 900, model.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 3, released)
	assert.Empty(t, w.occupants(10))
	assert.False(t, w.rooms[10].IsActive)
	for _, id := range []uint64{1, 2} {
		assert.Equal(t, model.AssignmentPending, w.user(id).RoomAssignment.Status)
	}

	_, err = a.CreateReservation(ctx, 3, 10, 3, "", model.RequestMeta{})
	assert.ErrorIs(t, err, ErrRoomInactive)
}

func TestDeleteRoom(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	w.addRoom(11, "202", 2, model.GenderMale)
	a := newTestAllocator(w)
	ctx := context.Background()
	_, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)

	assert.ErrorIs(t, a.DeleteRoom(ctx, 10), ErrRoomOccupied)
	assert.ErrorIs(t, a.DeleteRoom(ctx, 99), ErrRoomNotFound)
	require.NoError(t, a.DeleteRoom(ctx, 11))
	_, ok := w.rooms[11]
	assert.False(t, ok)
}

func TestDeleteRoom_CancelledHistoryDoesNotBlock(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	a := newTestAllocator(w)
	ctx := context.Background()

	view, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)
	require.NoError(t, a.CancelReservation(ctx, view.ID, 1, "moving out", model.RequestMeta{}))

	require.NoError(t, a.DeleteRoom(ctx, 10))
	_, ok := w.rooms[10]
	assert.False(t, ok)
	// the cancelled reservation keeps pointing at the deleted room
	assert.Equal(t, 1, w.reservationCount())
	assert.Equal(t, uint64(10), w.reservations[view.ID].RoomID)
}

func TestDeleteRoom_ActiveReservationWithoutOccupant(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	w.putReservation(model.Reservation{UserID: 1, RoomID: 10, BedNumber: 1, Status: model.StatusActive})
	a := newTestAllocator(w)

	assert.ErrorIs(t, a.DeleteRoom(context.Background(), 10), ErrRoomOccupied)
}

func TestUpdateRoom(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 4, model.GenderMale)
	l := &trackingLocker{}
	a := newTestAllocator(w, WithLocker(l))
	ctx := context.Background()
	ptr := func(v int) *int { return &v }
	female := model.GenderFemale

	view, err := a.CreateReservation(ctx, 1, 10, 4, "", model.RequestMeta{})
	require.NoError(t, err)

	assert.ErrorIs(t, a.UpdateRoom(ctx, 10, repository.RoomUpdate{Capacity: ptr(3)}), ErrCapacityBelowBed)
	assert.ErrorIs(t, a.UpdateRoom(ctx, 10, repository.RoomUpdate{Gender: &female}), ErrRoomGenderLocked)
	assert.ErrorIs(t, a.UpdateRoom(ctx, 99, repository.RoomUpdate{Floor: ptr(3)}), ErrRoomNotFound)
	assert.Equal(t, 4, w.rooms[10].Capacity)
	assert.Equal(t, model.GenderMale, w.rooms[10].Gender)

	desc := "renovated"
	require.NoError(t, a.UpdateRoom(ctx, 10, repository.RoomUpdate{Description: &desc, Capacity: ptr(10)}))
	assert.Equal(t, 10, w.rooms[10].Capacity)
	assert.Equal(t, "renovated", w.rooms[10].Description)

	require.NoError(t, a.CancelReservation(ctx, view.ID, 1, "", model.RequestMeta{}))
	require.NoError(t, a.UpdateRoom(ctx, 10, repository.RoomUpdate{Capacity: ptr(2), Gender: &female}))
	assert.Equal(t, 2, w.rooms[10].Capacity)
	assert.Equal(t, model.GenderFemale, w.rooms[10].Gender)
	assert.False(t, l.anyHeld())
}

func TestUpdateRoom_StoreGuardWins(t *testing.T) {
	w := newWorld()
	w.addRoom(10, "201", 4, model.GenderMale)
	w.fail["rooms.Update"] = repository.ErrConflict
	a := newTestAllocator(w)
	capacity := 2

	err := a.UpdateRoom(context.Background(), 10, repository.RoomUpdate{Capacity: &capacity})
	assert.ErrorIs(t, err, ErrCapacityBelowBed)
}

func TestCheckInCheckOut(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	pub := &recordingPublisher{}
	a := newTestAllocator(w, WithPublisher(pub))
	ctx := context.Background()
	view, err := a.CreateReservation(ctx, 1, 10, 1, "", model.RequestMeta{})
	require.NoError(t, err)

	_, err = a.CheckOut(ctx, view.ID, 900, model.RequestMeta{})
	assert.ErrorIs(t, err, ErrNotCheckedIn)

	res, err := a.CheckIn(ctx, view.ID, 900, model.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, res.ActualCheckIn)
	assert.Equal(t, fixedNow, *res.ActualCheckIn)

	_, err = a.CheckIn(ctx, view.ID, 900, model.RequestMeta{})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	res, err = a.CheckOut(ctx, view.ID, 900, model.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, res.ActualCheckOut)

	_, err = a.CheckOut(ctx, view.ID, 900, model.RequestMeta{})
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)

	// the assignment still points at the room
	assert.True(t, w.user(1).RoomAssignment.Matches("201"))
	assert.Equal(t, []string{queue.EventReserved, queue.EventCheckedIn, queue.EventCheckedOut}, pub.types())
	assert.Equal(t, model.ActionCheckedOut, w.history[len(w.history)-1].Action)
}

func TestInitializeRooms(t *testing.T) {
	w := newWorld()
	a := newTestAllocator(w)
	ctx := context.Background()

	n, err := a.InitializeRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 43, n)
	assert.Len(t, w.rooms, 43)

	_, err = a.InitializeRooms(ctx)
	assert.ErrorIs(t, err, ErrRoomsExist)
}

func TestDefaultLayout(t *testing.T) {
	rooms := DefaultLayout()
	byNumber := map[string]model.Room{}
	for _, rm := range rooms {
		byNumber[rm.RoomNumber] = rm
		assert.True(t, model.ValidCapacity(rm.Capacity), rm.RoomNumber)
	}
	assert.Len(t, byNumber, len(rooms))

	assert.Equal(t, model.GenderMale, byNumber["202"].Gender)
	assert.Equal(t, model.GenderFemale, byNumber["203"].Gender)
	assert.Equal(t, 3, byNumber["312"].Capacity)
	assert.Equal(t, model.GenderMale, byNumber["406"].Gender)
	assert.Equal(t, model.GenderFemale, byNumber["407"].Gender)
	assert.Equal(t, 4, byNumber["510"].Capacity)
	assert.Equal(t, 10, byNumber["604"].Capacity)
	assert.Equal(t, model.GenderFemale, byNumber["604"].Gender)
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "room_inactive", outcome(ErrRoomInactive))
	assert.Equal(t, "not_found", outcome(ErrRoomNotFound))
	assert.Equal(t, "invalid_bed", outcome(invalidBed(4)))
	assert.Equal(t, "room_occupied", outcome(ErrCapacityBelowBed))
	assert.Equal(t, "error", outcome(errors.New("x")))
}
