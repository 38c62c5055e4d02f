package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

// ReservationRepo persists reservation rows. The table carries two unique
// indexes over generated columns which only hold values while status is
// 'active': uq_reservations_active_user and uq_reservations_active_bed.
// Violations surface as ErrDuplicateActiveUser and ErrDuplicateActiveBed.
type ReservationRepo struct{ DB *sql.DB }

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{DB: db} }

const reservationColumns = `res.id, res.user_id, res.room_id, res.bed_number, res.status, res.reserved_at,
	res.cancelled_at, res.cancelled_by, res.cancel_reason, res.special_requests, res.notes,
	res.actual_check_in, res.actual_check_out, res.created_at, res.updated_at`

func scanReservation(row rowScanner, extra ...any) (*model.Reservation, error) {
	var (
		res                  model.Reservation
		cancelledAt, in, out sql.NullTime
		cancelledBy          sql.NullInt64
	)
	dest := []any{&res.ID, &res.UserID, &res.RoomID, &res.BedNumber, &res.Status, &res.ReservedAt,
		&cancelledAt, &cancelledBy, &res.CancelReason, &res.SpecialRequests, &res.Notes,
		&in, &out, &res.CreatedAt, &res.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	res.CancelledAt = nullTimePtr(cancelledAt)
	res.ActualCheckIn = nullTimePtr(in)
	res.ActualCheckOut = nullTimePtr(out)
	if cancelledBy.Valid {
		v := uint64(cancelledBy.Int64)
		res.CancelledBy = &v
	}
	return &res, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Create inserts an active reservation and sets its id.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	if res.Status == "" {
		res.Status = model.StatusActive
	}
	result, err := r.DB.ExecContext(ctx,
		`INSERT INTO reservations (user_id, room_id, bed_number, status, reserved_at, special_requests, notes, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		res.UserID, res.RoomID, res.BedNumber, res.Status, res.ReservedAt, res.SpecialRequests, res.Notes,
		res.ReservedAt, res.ReservedAt)
	if err != nil {
		if key, ok := duplicateKey(err); ok {
			if key == "uq_reservations_active_bed" {
				return ErrDuplicateActiveBed
			}
			return ErrDuplicateActiveUser
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.CreatedAt = res.ReservedAt
	res.UpdatedAt = res.ReservedAt
	return nil
}

// GetByID fetches a reservation by id.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := scanReservation(r.DB.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations res WHERE res.id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// FindActiveByUser returns the active reservation of a user, or nil when the
// user holds none.
func (r *ReservationRepo) FindActiveByUser(ctx context.Context, userID uint64) (*model.Reservation, error) {
	res, err := scanReservation(r.DB.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations res WHERE res.user_id=? AND res.status='active' LIMIT 1", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

// MarkCancelled moves an active reservation to cancelled. It returns
// ErrNotFound when no active row with that id exists.
func (r *ReservationRepo) MarkCancelled(ctx context.Context, id, by uint64, reason string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE reservations SET status='cancelled', cancelled_at=?, cancelled_by=?, cancel_reason=?
		 WHERE id=? AND status='active'`, at, by, reason, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// Delete removes a reservation row. Only the create compensation uses it.
func (r *ReservationRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM reservations WHERE id=?", id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetCheckIn records the actual check-in time of an active reservation.
func (r *ReservationRepo) SetCheckIn(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE reservations SET actual_check_in=? WHERE id=? AND status='active'", at, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetCheckOut records the actual check-out time of an active reservation.
func (r *ReservationRepo) SetCheckOut(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE reservations SET actual_check_out=? WHERE id=? AND status='active'", at, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListActiveAssignments returns every active reservation with its room number.
func (r *ReservationRepo) ListActiveAssignments(ctx context.Context) ([]model.ActiveAssignment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT res.id, res.user_id, res.room_id, rm.room_number, res.bed_number, res.created_at
		 FROM reservations res JOIN rooms rm ON rm.id = res.room_id
		 WHERE res.status='active' ORDER BY res.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ActiveAssignment
	for rows.Next() {
		var a model.ActiveAssignment
		if err := rows.Scan(&a.ReservationID, &a.UserID, &a.RoomID, &a.RoomNumber, &a.BedNumber, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const viewJoin = ` FROM reservations res
	JOIN rooms rm ON rm.id = res.room_id
	JOIN users u ON u.id = res.user_id`

const viewExtraColumns = `, rm.room_number, rm.floor, rm.capacity, rm.gender, u.name, u.email, u.gender, u.grade`

func scanView(row rowScanner) (*model.ReservationView, error) {
	var v model.ReservationView
	res, err := scanReservation(row,
		&v.Room.RoomNumber, &v.Room.Floor, &v.Room.Capacity, &v.Room.Gender,
		&v.User.Name, &v.User.Email, &v.User.Gender, &v.User.Grade)
	if err != nil {
		return nil, err
	}
	v.Reservation = *res
	v.Room.ID = res.RoomID
	v.User.ID = res.UserID
	return &v, nil
}

// GetView returns a reservation joined with room and user projections.
func (r *ReservationRepo) GetView(ctx context.Context, id uint64) (*model.ReservationView, error) {
	v, err := scanView(r.DB.QueryRowContext(ctx,
		"SELECT "+reservationColumns+viewExtraColumns+viewJoin+" WHERE res.id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func reservationWhere(f model.ReservationFilter) (string, []any) {
	where := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "res.status=?")
		args = append(args, f.Status)
	}
	if f.RoomID > 0 {
		where = append(where, "res.room_id=?")
		args = append(args, f.RoomID)
	}
	if f.UserID > 0 {
		where = append(where, "res.user_id=?")
		args = append(args, f.UserID)
	}
	if f.Floor > 0 {
		where = append(where, "rm.floor=?")
		args = append(args, f.Floor)
	}
	return strings.Join(where, " AND "), args
}

// List returns reservation views matching f and the total count.
func (r *ReservationRepo) List(ctx context.Context, f model.ReservationFilter) ([]model.ReservationView, int, error) {
	cond, args := reservationWhere(f)
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*)"+viewJoin+" WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := pageWindow(f.Page, f.Limit)
	q := fmt.Sprintf("SELECT %s%s%s WHERE %s ORDER BY res.reserved_at DESC, res.id DESC LIMIT %d OFFSET %d",
		reservationColumns, viewExtraColumns, viewJoin, cond, limit, offset)
	views, err := r.queryViews(ctx, q, args...)
	return views, total, err
}

// ListAll returns every reservation view matching f without pagination.
// The spreadsheet export uses it.
func (r *ReservationRepo) ListAll(ctx context.Context, f model.ReservationFilter) ([]model.ReservationView, error) {
	cond, args := reservationWhere(f)
	return r.queryViews(ctx, "SELECT "+reservationColumns+viewExtraColumns+viewJoin+
		" WHERE "+cond+" ORDER BY rm.room_number, res.bed_number, res.id", args...)
}

func (r *ReservationRepo) queryViews(ctx context.Context, q string, args ...any) ([]model.ReservationView, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ReservationView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Stats returns per-status counters; Today counts reservations made since
// the start of the UTC day containing now.
func (r *ReservationRepo) Stats(ctx context.Context, now time.Time) (model.ReservationStats, error) {
	var s model.ReservationStats
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(status='active'),0),
			COALESCE(SUM(status='cancelled'),0),
			COALESCE(SUM(status='expired'),0),
			COALESCE(SUM(reserved_at >= ?),0)
		 FROM reservations`, day).Scan(&s.Total, &s.Active, &s.Cancelled, &s.Expired, &s.Today)
	return s, err
}
