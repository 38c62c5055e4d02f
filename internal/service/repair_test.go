package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

func assignTo(u *model.User, number string) {
	n := number
	u.RoomAssignment = model.RoomAssignment{RoomNumber: &n, AssignedAt: &fixedNow, Status: model.AssignmentAssigned}
}

func TestRepair_OrphanedAssignmentCountsOnce(t *testing.T) {
	w := newWorld()
	u := w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	assignTo(u, "201")
	a := newTestAllocator(w)

	report, err := a.RepairDataConsistency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.OrphansReset)
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
}

func TestRepair_CorruptedStoreBecomesConsistentAndIdempotent(t *testing.T) {
	w := newWorld()
	for id := uint64(1); id <= 5; id++ {
		w.addUser(id, model.GenderFemale)
	}
	w.addRoom(10, "301", 3, model.GenderFemale)
	w.addRoom(11, "302", 3, model.GenderFemale)

	// 1: active reservation, assignment missing, occupant missing
	w.putReservation(model.Reservation{UserID: 1, RoomID: 10, BedNumber: 1, Status: model.StatusActive, CreatedAt: fixedNow})
	// 2: active reservation, assignment points at the wrong room
	w.putReservation(model.Reservation{UserID: 2, RoomID: 10, BedNumber: 2, Status: model.StatusActive, CreatedAt: fixedNow})
	assignTo(w.users[2], "302")
	w.rooms[10].Occupants = append(w.rooms[10].Occupants, model.Occupant{UserID: 2, BedNumber: 2})
	// 3: assigned without reservation and a stale occupant row
	assignTo(w.users[3], "302")
	w.rooms[11].Occupants = append(w.rooms[11].Occupants, model.Occupant{UserID: 3, BedNumber: 1})
	// 4: cancelled reservation, still listed as occupant
	w.putReservation(model.Reservation{UserID: 4, RoomID: 11, BedNumber: 2, Status: model.StatusCancelled})
	w.rooms[11].Occupants = append(w.rooms[11].Occupants, model.Occupant{UserID: 4, BedNumber: 2})
	// 5: consistent
	w.putReservation(model.Reservation{UserID: 5, RoomID: 11, BedNumber: 3, Status: model.StatusActive, CreatedAt: fixedNow})
	assignTo(w.users[5], "302")
	w.rooms[11].Occupants = append(w.rooms[11].Occupants, model.Occupant{UserID: 5, BedNumber: 3})

	a := newTestAllocator(w)
	ctx := context.Background()

	report, err := a.RepairDataConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{AssignmentsSynced: 2, OrphansReset: 1, OccupantsRemoved: 2, OccupantsRestored: 1}, report)
	assert.Equal(t, 6, report.Total())

	assertLinked(t, w)

	again, err := a.RepairDataConsistency(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Total())
}

// assertLinked checks the reservation/assignment/occupant biconditional.
func assertLinked(t *testing.T, w *world) {
	t.Helper()
	active := map[uint64]*model.Reservation{}
	for _, r := range w.reservations {
		if r.Status == model.StatusActive {
			require.NotContains(t, active, r.UserID)
			active[r.UserID] = r
		}
	}
	for id, u := range w.users {
		r, ok := active[id]
		if !ok {
			assert.NotEqual(t, model.AssignmentAssigned, u.RoomAssignment.Status, "user %d", id)
			continue
		}
		assert.True(t, u.RoomAssignment.Matches(w.rooms[r.RoomID].RoomNumber), "user %d", id)
	}
	for _, rm := range w.rooms {
		assert.LessOrEqual(t, len(rm.Occupants), rm.Capacity)
		beds := map[int]bool{}
		for _, o := range rm.Occupants {
			assert.False(t, beds[o.BedNumber], "room %s bed %d twice", rm.RoomNumber, o.BedNumber)
			beds[o.BedNumber] = true
			r, ok := active[o.UserID]
			require.True(t, ok, "occupant %d without reservation", o.UserID)
			assert.Equal(t, rm.ID, r.RoomID)
			assert.Equal(t, o.BedNumber, r.BedNumber)
		}
	}
}

func TestRepair_SkipsReservationCancelledMidSweep(t *testing.T) {
	w := newWorld()
	w.addUser(1, model.GenderMale)
	w.addRoom(10, "201", 2, model.GenderMale)
	id := w.putReservation(model.Reservation{UserID: 1, RoomID: 10, BedNumber: 1, Status: model.StatusActive})
	a := newTestAllocator(w)
	a.reservations = cancelOnList{fakeReservations{w}, id}

	report, err := a.RepairDataConsistency(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.AssignmentsSynced)
	assert.Zero(t, report.OccupantsRestored)
	assert.Equal(t, model.PendingAssignment(), w.user(1).RoomAssignment)
}

// cancelOnList returns the active list and then cancels one reservation, as
// a concurrent request would.
type cancelOnList struct {
	fakeReservations
	id uint64
}

func (c cancelOnList) ListActiveAssignments(ctx context.Context) ([]model.ActiveAssignment, error) {
	out, err := c.fakeReservations.ListActiveAssignments(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.reservations[c.id].Status = model.StatusCancelled
	c.mu.Unlock()
	return out, nil
}

func TestRepair_StoreErrorsAreJoined(t *testing.T) {
	w := newWorld()
	u := w.addUser(1, model.GenderMale)
	assignTo(u, "201")
	boom := errors.New("write failed")
	w.fail["users.SetRoomAssignment"] = boom
	a := newTestAllocator(w)

	report, err := a.RepairDataConsistency(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, report.Total())
}

func TestRepair_ListFailureAborts(t *testing.T) {
	w := newWorld()
	w.fail["rooms.ListAllOccupants"] = errors.New("timeout")
	a := newTestAllocator(w)

	_, err := a.RepairDataConsistency(context.Background())
	assert.EqualError(t, err, "list occupants: timeout")
}
