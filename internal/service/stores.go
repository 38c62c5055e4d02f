package service

import (
	"context"
	"time"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/queue"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

// UserStore is the part of the user repository the allocator needs. Lookups
// of missing rows return repository.ErrNotFound.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	SetRoomAssignment(ctx context.Context, userID uint64, a model.RoomAssignment) error
	ListAssigned(ctx context.Context) ([]model.User, error)
	SoftDelete(ctx context.Context, id uint64, now time.Time) error
}

// RoomStore reads rooms and mutates their occupant lists.
type RoomStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Room, error)
	AddOccupant(ctx context.Context, roomID uint64, o model.Occupant) error
	RemoveOccupant(ctx context.Context, roomID, userID uint64, bed int) (int64, error)
	RemoveUserFromRoomNumber(ctx context.Context, roomNumber string, userID uint64) (int64, error)
	ListAllOccupants(ctx context.Context) ([]repository.OccupancyRow, error)
	SetActive(ctx context.Context, id uint64, active bool) error
	Update(ctx context.Context, id uint64, u repository.RoomUpdate) error
	Delete(ctx context.Context, id uint64) error
	Count(ctx context.Context) (int, error)
	CreateBulk(ctx context.Context, rooms []model.Room) error
}

// ReservationStore enforces the two active-reservation unique indexes and
// reports violations as repository.ErrDuplicateActiveUser and
// repository.ErrDuplicateActiveBed.
type ReservationStore interface {
	Create(ctx context.Context, res *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	FindActiveByUser(ctx context.Context, userID uint64) (*model.Reservation, error)
	MarkCancelled(ctx context.Context, id, by uint64, reason string, at time.Time) error
	Delete(ctx context.Context, id uint64) error
	SetCheckIn(ctx context.Context, id uint64, at time.Time) error
	SetCheckOut(ctx context.Context, id uint64, at time.Time) error
	ListActiveAssignments(ctx context.Context) ([]model.ActiveAssignment, error)
}

// HistoryStore is append-only.
type HistoryStore interface {
	Append(ctx context.Context, h *model.HistoryEntry) error
}

// EventPublisher delivers reservation events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.ReservationEvent) error { return nil }
