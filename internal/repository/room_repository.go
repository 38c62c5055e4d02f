package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

// RoomRepo persists rooms and their occupant rows. The room_occupants table
// is the occupant list of a room: appending an occupant is an INSERT and
// removing one is a DELETE. Its (room_id, bed_number) primary key rejects a
// second occupant on the same bed.
type RoomRepo struct{ DB *sql.DB }

func NewRoomRepo(db *sql.DB) *RoomRepo { return &RoomRepo{DB: db} }

const roomColumns = "id, room_number, floor, capacity, gender, amenities, description, is_active, created_at, updated_at"

const mysqlRowReferenced = 1451

func scanRoom(row rowScanner) (*model.Room, error) {
	var (
		rm        model.Room
		amenities string
	)
	if err := row.Scan(&rm.ID, &rm.RoomNumber, &rm.Floor, &rm.Capacity, &rm.Gender, &amenities,
		&rm.Description, &rm.IsActive, &rm.CreatedAt, &rm.UpdatedAt); err != nil {
		return nil, err
	}
	rm.Amenities = splitAmenities(amenities)
	rm.Occupants = []model.Occupant{}
	return &rm, nil
}

func splitAmenities(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Create inserts a room and sets its id.
func (r *RoomRepo) Create(ctx context.Context, rm *model.Room) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO rooms (room_number, floor, capacity, gender, amenities, description, is_active)
		 VALUES (?,?,?,?,?,?,?)`,
		rm.RoomNumber, rm.Floor, rm.Capacity, rm.Gender, strings.Join(rm.Amenities, ","), rm.Description, rm.IsActive)
	if err != nil {
		if _, ok := duplicateKey(err); ok {
			return ErrRoomNumberExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rm.ID = uint64(id)
	return nil
}

// CreateBulk inserts rooms inside one transaction; either all rows land or
// none do.
func (r *RoomRepo) CreateBulk(ctx context.Context, rooms []model.Room) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rooms (room_number, floor, capacity, gender, amenities, description, is_active)
		 VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rm := range rooms {
		if _, err = stmt.ExecContext(ctx, rm.RoomNumber, rm.Floor, rm.Capacity, rm.Gender,
			strings.Join(rm.Amenities, ","), rm.Description, rm.IsActive); err != nil {
			if _, ok := duplicateKey(err); ok {
				err = fmt.Errorf("%w: %s", ErrRoomNumberExists, rm.RoomNumber)
			}
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of rooms.
func (r *RoomRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n)
	return n, err
}

// GetByID returns a room with its occupants ordered by bed.
func (r *RoomRepo) GetByID(ctx context.Context, id uint64) (*model.Room, error) {
	return r.getOne(ctx, "id=?", id)
}

// GetByNumber returns a room with its occupants by room number.
func (r *RoomRepo) GetByNumber(ctx context.Context, number string) (*model.Room, error) {
	return r.getOne(ctx, "room_number=?", number)
}

func (r *RoomRepo) getOne(ctx context.Context, where string, arg any) (*model.Room, error) {
	rm, err := scanRoom(r.DB.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE "+where+" LIMIT 1", arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	occ, err := r.ListOccupants(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	rm.Occupants = occ
	return rm, nil
}

// ListOccupants returns the occupant rows of a room ordered by bed.
func (r *RoomRepo) ListOccupants(ctx context.Context, roomID uint64) ([]model.Occupant, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT user_id, bed_number, assigned_at FROM room_occupants WHERE room_id=? ORDER BY bed_number", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Occupant{}
	for rows.Next() {
		var o model.Occupant
		if err := rows.Scan(&o.UserID, &o.BedNumber, &o.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AddOccupant appends an occupant to a room. A second occupant on the same
// bed fails with ErrBedTaken.
func (r *RoomRepo) AddOccupant(ctx context.Context, roomID uint64, o model.Occupant) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO room_occupants (room_id, user_id, bed_number, assigned_at) VALUES (?,?,?,?)",
		roomID, o.UserID, o.BedNumber, o.AssignedAt)
	if _, ok := duplicateKey(err); ok {
		return ErrBedTaken
	}
	return err
}

// RemoveOccupant pulls the occupant matching both user and bed and returns
// the number of removed rows.
func (r *RoomRepo) RemoveOccupant(ctx context.Context, roomID, userID uint64, bed int) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM room_occupants WHERE room_id=? AND user_id=? AND bed_number=?", roomID, userID, bed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RemoveUserFromRoomNumber pulls every occupant row of userID in the room
// with the given number.
func (r *RoomRepo) RemoveUserFromRoomNumber(ctx context.Context, roomNumber string, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE o FROM room_occupants o JOIN rooms r ON r.id = o.room_id
		 WHERE r.room_number=? AND o.user_id=?`, roomNumber, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OccupancyRow is one occupant with its room number, used by the repair sweep.
type OccupancyRow struct {
	RoomID     uint64
	RoomNumber string
	UserID     uint64
	BedNumber  int
	AssignedAt time.Time
}

// ListAllOccupants returns every occupant row across rooms.
func (r *RoomRepo) ListAllOccupants(ctx context.Context) ([]OccupancyRow, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT o.room_id, r.room_number, o.user_id, o.bed_number, o.assigned_at
		 FROM room_occupants o JOIN rooms r ON r.id = o.room_id ORDER BY o.room_id, o.bed_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OccupancyRow
	for rows.Next() {
		var o OccupancyRow
		if err := rows.Scan(&o.RoomID, &o.RoomNumber, &o.UserID, &o.BedNumber, &o.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// List returns rooms matching f with their occupants, plus the total count
// before pagination.
func (r *RoomRepo) List(ctx context.Context, f model.RoomFilter) ([]model.Room, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if !f.IncludeInactive {
		where = append(where, "rm.is_active=1")
	}
	if f.Floor > 0 {
		where = append(where, "rm.floor=?")
		args = append(args, f.Floor)
	}
	if f.Capacity > 0 {
		where = append(where, "rm.capacity=?")
		args = append(args, f.Capacity)
	}
	if f.Gender != "" {
		where = append(where, "rm.gender=?")
		args = append(args, f.Gender)
	}
	if f.AvailableOnly {
		where = append(where, "(SELECT COUNT(*) FROM room_occupants o WHERE o.room_id = rm.id) < rm.capacity")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms rm WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "rm.floor, rm.room_number"
	switch f.Sort {
	case "room_number":
		order = "rm.room_number"
	case "capacity":
		order = "rm.capacity, rm.room_number"
	case "-capacity":
		order = "rm.capacity DESC, rm.room_number"
	}
	limit, offset := pageWindow(f.Page, f.Limit)
	q := fmt.Sprintf(`SELECT rm.id, rm.room_number, rm.floor, rm.capacity, rm.gender, rm.amenities,
		rm.description, rm.is_active, rm.created_at, rm.updated_at
		FROM rooms rm WHERE %s ORDER BY %s LIMIT %d OFFSET %d`, cond, order, limit, offset)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	rooms := []model.Room{}
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range rooms {
		occ, err := r.ListOccupants(ctx, rooms[i].ID)
		if err != nil {
			return nil, 0, err
		}
		rooms[i].Occupants = occ
	}
	return rooms, total, nil
}

// RoomUpdate holds admin-editable room fields. Nil means unchanged.
type RoomUpdate struct {
	Floor       *int
	Capacity    *int
	Gender      *string
	Amenities   []string
	Description *string
}

// Update applies the non-nil fields of u in one statement. A capacity
// change only matches while no occupant holds a bed above the new capacity;
// otherwise nothing is written and ErrConflict is returned.
func (r *RoomRepo) Update(ctx context.Context, id uint64, u RoomUpdate) error {
	sets := []string{}
	args := []any{}
	if u.Floor != nil {
		sets = append(sets, "floor=?")
		args = append(args, *u.Floor)
	}
	if u.Capacity != nil {
		sets = append(sets, "capacity=?")
		args = append(args, *u.Capacity)
	}
	if u.Gender != nil {
		sets = append(sets, "gender=?")
		args = append(args, *u.Gender)
	}
	if u.Amenities != nil {
		sets = append(sets, "amenities=?")
		args = append(args, strings.Join(u.Amenities, ","))
	}
	if u.Description != nil {
		sets = append(sets, "description=?")
		args = append(args, *u.Description)
	}
	if len(sets) == 0 {
		return nil
	}
	q := "UPDATE rooms SET " + strings.Join(sets, ", ") + " WHERE id=?"
	args = append(args, id)
	if u.Capacity != nil {
		q += " AND NOT EXISTS (SELECT 1 FROM room_occupants o WHERE o.room_id=? AND o.bed_number>?)"
		args = append(args, id, *u.Capacity)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	err = expectRow(res)
	if !errors.Is(err, ErrNotFound) || u.Capacity == nil {
		return err
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms WHERE id=?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// SetActive toggles whether a room accepts reservations.
func (r *RoomRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE rooms SET is_active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// Delete removes a room with no occupants and no active reservation.
// Cancelled and expired reservations keep their room_id and do not block
// the delete. A blocked delete returns ErrConflict.
func (r *RoomRepo) Delete(ctx context.Context, id uint64) error {
	var n int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_occupants WHERE room_id=?", id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE room_id=? AND status='active'", id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	res, err := r.DB.ExecContext(ctx, "DELETE FROM rooms WHERE id=?", id)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlRowReferenced {
			return ErrConflict
		}
		return err
	}
	return expectRow(res)
}

// Stats aggregates occupancy over active rooms.
func (r *RoomRepo) Stats(ctx context.Context) (model.RoomStats, error) {
	s := model.RoomStats{ByFloor: map[int]int{}, ByGender: map[string]int{}}
	if err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active),0), COALESCE(SUM(IF(is_active=1, capacity, 0)),0) FROM rooms`).
		Scan(&s.TotalRooms, &s.ActiveRooms, &s.TotalBeds); err != nil {
		return s, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT rm.floor, rm.gender, COUNT(*) FROM room_occupants o
		 JOIN rooms rm ON rm.id = o.room_id WHERE rm.is_active=1 GROUP BY rm.floor, rm.gender`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			floor, n int
			gender   string
		)
		if err := rows.Scan(&floor, &gender, &n); err != nil {
			return s, err
		}
		s.ByFloor[floor] += n
		s.ByGender[gender] += n
		s.OccupiedBeds += n
	}
	if err := rows.Err(); err != nil {
		return s, err
	}
	s.AvailableBeds = s.TotalBeds - s.OccupiedBeds
	if s.TotalBeds > 0 {
		s.OccupancyRate = float64(s.OccupiedBeds) / float64(s.TotalBeds)
	}
	return s, nil
}
