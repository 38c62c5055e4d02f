package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

type floorPlan struct {
	floor    int
	rooms    int
	capacity int
	male     int // the first `male` rooms of the floor are male rooms
}

var defaultPlan = []floorPlan{
	{floor: 2, rooms: 5, capacity: 2, male: 2},
	{floor: 3, rooms: 12, capacity: 3, male: 6},
	{floor: 4, rooms: 12, capacity: 3, male: 6},
	{floor: 5, rooms: 10, capacity: 4, male: 5},
	{floor: 6, rooms: 4, capacity: 10, male: 2},
}

// DefaultLayout returns the dormitory's initial room set. Floors with ten or
// more rooms use two-digit suffixes ("301", "312").
func DefaultLayout() []model.Room {
	var out []model.Room
	for _, p := range defaultPlan {
		for i := 1; i <= p.rooms; i++ {
			number := fmt.Sprintf("%d%02d", p.floor, i)
			gender := model.GenderFemale
			if i <= p.male {
				gender = model.GenderMale
			}
			out = append(out, model.Room{
				RoomNumber:  number,
				Floor:       p.floor,
				Capacity:    p.capacity,
				Gender:      gender,
				Amenities:   []string{},
				Description: fmt.Sprintf("%d-person room", p.capacity),
				IsActive:    true,
			})
		}
	}
	return out
}

// InitializeRooms creates DefaultLayout on an empty rooms table.
func (a *Allocator) InitializeRooms(ctx context.Context) (n int, err error) {
	defer a.observe("initialize_rooms", time.Now(), &err)

	count, err := a.rooms.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	if count > 0 {
		return 0, ErrRoomsExist
	}
	rooms := DefaultLayout()
	if err := a.rooms.CreateBulk(ctx, rooms); err != nil {
		return 0, fmt.Errorf("create rooms: %w", err)
	}
	a.log.Info("rooms initialized", zap.Int("rooms", len(rooms)))
	return len(rooms), nil
}
