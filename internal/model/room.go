package model

import "time"

// ValidCapacities lists the bunk sizes a room may have.
var ValidCapacities = []int{2, 3, 4, 10, 20}

// ValidCapacity reports whether n is one of ValidCapacities.
func ValidCapacity(n int) bool {
	for _, c := range ValidCapacities {
		if c == n {
			return true
		}
	}
	return false
}

// Occupant binds a user to one bed of a room (`room_occupants` row).
type Occupant struct {
	UserID     uint64    `json:"user_id"`
	BedNumber  int       `json:"bed_number"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Room is a bunk room together with its current occupants.
type Room struct {
	ID          uint64     `json:"id"`
	RoomNumber  string     `json:"room_number"`
	Floor       int        `json:"floor"`
	Capacity    int        `json:"capacity"`
	Gender      string     `json:"gender"`
	Amenities   []string   `json:"amenities"`
	Description string     `json:"description"`
	IsActive    bool       `json:"is_active"`
	Occupants   []Occupant `json:"occupants"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BedTaken reports whether an occupant already holds bed.
func (r *Room) BedTaken(bed int) bool {
	for _, o := range r.Occupants {
		if o.BedNumber == bed {
			return true
		}
	}
	return false
}

// IsFull reports whether every bed is taken.
func (r *Room) IsFull() bool { return len(r.Occupants) >= r.Capacity }

// AvailableBeds returns the free bed numbers in ascending order.
func (r *Room) AvailableBeds() []int {
	out := make([]int, 0, r.Capacity)
	for b := 1; b <= r.Capacity; b++ {
		if !r.BedTaken(b) {
			out = append(out, b)
		}
	}
	return out
}

// AcceptsGender reports whether a user of gender may take a bed here.
func (r *Room) AcceptsGender(gender string) bool {
	return r.Gender == GenderShared || r.Gender == gender
}

// RoomSummary is the projection embedded in reservation views.
type RoomSummary struct {
	ID         uint64 `json:"id"`
	RoomNumber string `json:"room_number"`
	Floor      int    `json:"floor"`
	Capacity   int    `json:"capacity"`
	Gender     string `json:"gender"`
}

// Summary projects the room onto a RoomSummary.
func (r *Room) Summary() RoomSummary {
	return RoomSummary{ID: r.ID, RoomNumber: r.RoomNumber, Floor: r.Floor, Capacity: r.Capacity, Gender: r.Gender}
}

// RoomFilter narrows room listings. Zero values mean no filter.
type RoomFilter struct {
	Floor           int
	Capacity        int
	Gender          string
	AvailableOnly   bool
	IncludeInactive bool
	Sort            string // room_number, floor, capacity
	Page            int
	Limit           int
}

// RoomStats aggregates occupancy counters for the admin dashboard.
type RoomStats struct {
	TotalRooms    int            `json:"total_rooms"`
	ActiveRooms   int            `json:"active_rooms"`
	TotalBeds     int            `json:"total_beds"`
	OccupiedBeds  int            `json:"occupied_beds"`
	AvailableBeds int            `json:"available_beds"`
	OccupancyRate float64        `json:"occupancy_rate"`
	ByFloor       map[int]int    `json:"occupied_by_floor"`
	ByGender      map[string]int `json:"occupied_by_gender"`
}
