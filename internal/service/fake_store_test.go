package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/queue"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

// world is an in-memory store that enforces the same unique constraints as
// the MySQL schema and lets tests inject failures per method.
type world struct {
	mu           sync.Mutex
	users        map[uint64]*model.User
	rooms        map[uint64]*model.Room
	reservations map[uint64]*model.Reservation
	history      []model.HistoryEntry
	nextID       uint64
	fail         map[string]error
	calls        []string
}

func newWorld() *world {
	return &world{
		users:        map[uint64]*model.User{},
		rooms:        map[uint64]*model.Room{},
		reservations: map[uint64]*model.Reservation{},
		fail:         map[string]error{},
		nextID:       1000,
	}
}

func (w *world) hit(name string) error {
	w.calls = append(w.calls, name)
	return w.fail[name]
}

func (w *world) addUser(id uint64, gender string) *model.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := &model.User{ID: id, Name: "user", Email: "u@example.com", Gender: gender, Role: "user", IsActive: true, RoomAssignment: model.PendingAssignment()}
	w.users[id] = u
	return u
}

func (w *world) addRoom(id uint64, number string, capacity int, gender string) *model.Room {
	w.mu.Lock()
	defer w.mu.Unlock()
	rm := &model.Room{ID: id, RoomNumber: number, Floor: 2, Capacity: capacity, Gender: gender, IsActive: true, Occupants: []model.Occupant{}}
	w.rooms[id] = rm
	return rm
}

func (w *world) user(id uint64) model.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.users[id]
}

func (w *world) occupants(roomID uint64) []model.Occupant {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Occupant{}, w.rooms[roomID].Occupants...)
}

func (w *world) reservationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.reservations)
}

func (w *world) putReservation(r model.Reservation) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	r.ID = w.nextID
	w.reservations[r.ID] = &r
	return r.ID
}

type fakeUsers struct{ *world }
type fakeRooms struct{ *world }
type fakeReservations struct{ *world }
type fakeHistory struct{ *world }

func (f fakeUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) SetRoomAssignment(_ context.Context, id uint64, a model.RoomAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("users.SetRoomAssignment"); err != nil {
		return err
	}
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.RoomAssignment = a
	return nil
}

func (f fakeUsers) ListAssigned(context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("users.ListAssigned"); err != nil {
		return nil, err
	}
	var out []model.User
	for _, u := range f.users {
		if u.RoomAssignment.Status == model.AssignmentAssigned {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeUsers) SoftDelete(_ context.Context, id uint64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("users.SoftDelete"); err != nil {
		return err
	}
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return repository.ErrNotFound
	}
	u.DeletedAt = &now
	u.IsActive = false
	u.RoomAssignment = model.PendingAssignment()
	return nil
}

func (f fakeRooms) GetByID(_ context.Context, id uint64) (*model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.GetByID"); err != nil {
		return nil, err
	}
	rm, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rm
	cp.Occupants = append([]model.Occupant{}, rm.Occupants...)
	return &cp, nil
}

func (f fakeRooms) AddOccupant(_ context.Context, roomID uint64, o model.Occupant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.AddOccupant"); err != nil {
		return err
	}
	rm, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	if rm.BedTaken(o.BedNumber) {
		return repository.ErrBedTaken
	}
	rm.Occupants = append(rm.Occupants, o)
	return nil
}

func (f fakeRooms) RemoveOccupant(_ context.Context, roomID, userID uint64, bed int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.RemoveOccupant"); err != nil {
		return 0, err
	}
	rm, ok := f.rooms[roomID]
	if !ok {
		return 0, nil
	}
	var n int64
	kept := rm.Occupants[:0]
	for _, o := range rm.Occupants {
		if o.UserID == userID && o.BedNumber == bed {
			n++
			continue
		}
		kept = append(kept, o)
	}
	rm.Occupants = kept
	return n, nil
}

func (f fakeRooms) RemoveUserFromRoomNumber(_ context.Context, number string, userID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.RemoveUserFromRoomNumber"); err != nil {
		return 0, err
	}
	var n int64
	for _, rm := range f.rooms {
		if rm.RoomNumber != number {
			continue
		}
		kept := rm.Occupants[:0]
		for _, o := range rm.Occupants {
			if o.UserID == userID {
				n++
				continue
			}
			kept = append(kept, o)
		}
		rm.Occupants = kept
	}
	return n, nil
}

func (f fakeRooms) ListAllOccupants(context.Context) ([]repository.OccupancyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.ListAllOccupants"); err != nil {
		return nil, err
	}
	var out []repository.OccupancyRow
	for _, rm := range f.rooms {
		for _, o := range rm.Occupants {
			out = append(out, repository.OccupancyRow{RoomID: rm.ID, RoomNumber: rm.RoomNumber, UserID: o.UserID, BedNumber: o.BedNumber, AssignedAt: o.AssignedAt})
		}
	}
	return out, nil
}

func (f fakeRooms) SetActive(_ context.Context, id uint64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.SetActive"); err != nil {
		return err
	}
	rm, ok := f.rooms[id]
	if !ok {
		return repository.ErrNotFound
	}
	rm.IsActive = active
	return nil
}

func (f fakeRooms) Update(_ context.Context, id uint64, u repository.RoomUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.Update"); err != nil {
		return err
	}
	rm, ok := f.rooms[id]
	if !ok {
		return repository.ErrNotFound
	}
	if u.Capacity != nil {
		for _, o := range rm.Occupants {
			if o.BedNumber > *u.Capacity {
				return repository.ErrConflict
			}
		}
		rm.Capacity = *u.Capacity
	}
	if u.Floor != nil {
		rm.Floor = *u.Floor
	}
	if u.Gender != nil {
		rm.Gender = *u.Gender
	}
	if u.Amenities != nil {
		rm.Amenities = u.Amenities
	}
	if u.Description != nil {
		rm.Description = *u.Description
	}
	return nil
}

func (f fakeRooms) Delete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.Delete"); err != nil {
		return err
	}
	rm, ok := f.rooms[id]
	if !ok {
		return repository.ErrNotFound
	}
	if len(rm.Occupants) > 0 {
		return repository.ErrConflict
	}
	for _, r := range f.reservations {
		if r.RoomID == id && r.Status == model.StatusActive {
			return repository.ErrConflict
		}
	}
	delete(f.rooms, id)
	return nil
}

func (f fakeRooms) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms), f.hit("rooms.Count")
}

func (f fakeRooms) CreateBulk(_ context.Context, rooms []model.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("rooms.CreateBulk"); err != nil {
		return err
	}
	for _, rm := range rooms {
		f.nextID++
		rm.ID = f.nextID
		cp := rm
		f.rooms[cp.ID] = &cp
	}
	return nil
}

func (f fakeReservations) Create(_ context.Context, r *model.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.Create"); err != nil {
		return err
	}
	for _, ex := range f.reservations {
		if ex.Status != model.StatusActive {
			continue
		}
		if ex.UserID == r.UserID {
			return repository.ErrDuplicateActiveUser
		}
		if ex.RoomID == r.RoomID && ex.BedNumber == r.BedNumber {
			return repository.ErrDuplicateActiveBed
		}
	}
	f.nextID++
	r.ID = f.nextID
	cp := *r
	f.reservations[r.ID] = &cp
	return nil
}

func (f fakeReservations) GetByID(_ context.Context, id uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.GetByID"); err != nil {
		return nil, err
	}
	r, ok := f.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f fakeReservations) FindActiveByUser(_ context.Context, userID uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.FindActiveByUser"); err != nil {
		return nil, err
	}
	for _, r := range f.reservations {
		if r.UserID == userID && r.Status == model.StatusActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeReservations) MarkCancelled(_ context.Context, id, by uint64, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.MarkCancelled"); err != nil {
		return err
	}
	r, ok := f.reservations[id]
	if !ok || r.Status != model.StatusActive {
		return repository.ErrNotFound
	}
	r.Status = model.StatusCancelled
	r.CancelledAt = &at
	r.CancelledBy = &by
	r.CancelReason = reason
	return nil
}

func (f fakeReservations) Delete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.Delete"); err != nil {
		return err
	}
	if _, ok := f.reservations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.reservations, id)
	return nil
}

func (f fakeReservations) SetCheckIn(_ context.Context, id uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.SetCheckIn"); err != nil {
		return err
	}
	r, ok := f.reservations[id]
	if !ok || r.Status != model.StatusActive {
		return repository.ErrNotFound
	}
	r.ActualCheckIn = &at
	return nil
}

func (f fakeReservations) SetCheckOut(_ context.Context, id uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.SetCheckOut"); err != nil {
		return err
	}
	r, ok := f.reservations[id]
	if !ok || r.Status != model.StatusActive {
		return repository.ErrNotFound
	}
	r.ActualCheckOut = &at
	return nil
}

func (f fakeReservations) ListActiveAssignments(context.Context) ([]model.ActiveAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("reservations.ListActiveAssignments"); err != nil {
		return nil, err
	}
	var out []model.ActiveAssignment
	for _, r := range f.reservations {
		if r.Status != model.StatusActive {
			continue
		}
		number := ""
		if rm, ok := f.rooms[r.RoomID]; ok {
			number = rm.RoomNumber
		}
		out = append(out, model.ActiveAssignment{
			ReservationID: r.ID, UserID: r.UserID, RoomID: r.RoomID,
			RoomNumber: number, BedNumber: r.BedNumber, CreatedAt: r.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationID < out[j].ReservationID })
	return out, nil
}

func (f fakeHistory) Append(_ context.Context, h *model.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("history.Append"); err != nil {
		return err
	}
	f.nextID++
	h.ID = f.nextID
	f.history = append(f.history, *h)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAllocator(w *world, opts ...Option) *Allocator {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewAllocator(fakeUsers{w}, fakeRooms{w}, fakeReservations{w}, fakeHistory{w}, opts...)
}
