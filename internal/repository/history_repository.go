package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

// HistoryRepo appends to reservation_history. Rows are never updated or
// deleted, so the repo exposes no mutation besides Append.
type HistoryRepo struct{ DB *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

// Append writes one audit row.
func (r *HistoryRepo) Append(ctx context.Context, h *model.HistoryEntry) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO reservation_history (user_id, room_id, reservation_id, action, bed_number,
			previous_data, new_data, reason, performed_by, performed_at, ip_address, user_agent, admin_notes)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.UserID, h.RoomID, h.ReservationID, h.Action, h.BedNumber,
		rawOrNil(h.PreviousData), rawOrNil(h.NewData), h.Reason, h.PerformedBy, h.PerformedAt,
		h.IPAddress, h.UserAgent, h.AdminNotes)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	return nil
}

func rawOrNil(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// ListByUser returns the newest entries for a user, at most limit rows.
func (r *HistoryRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.HistoryEntry, error) {
	return r.list(ctx, "user_id=?", userID, limit)
}

// ListByRoom returns the newest entries for a room, at most limit rows.
func (r *HistoryRepo) ListByRoom(ctx context.Context, roomID uint64, limit int) ([]model.HistoryEntry, error) {
	return r.list(ctx, "room_id=?", roomID, limit)
}

func (r *HistoryRepo) list(ctx context.Context, where string, arg any, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, room_id, reservation_id, action, bed_number, previous_data, new_data,
			reason, performed_by, performed_at, ip_address, user_agent, admin_notes
		 FROM reservation_history WHERE `+where+` ORDER BY performed_at DESC, id DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.HistoryEntry{}
	for rows.Next() {
		var (
			h             model.HistoryEntry
			resID         sql.NullInt64
			prev, newData []byte
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.RoomID, &resID, &h.Action, &h.BedNumber, &prev, &newData,
			&h.Reason, &h.PerformedBy, &h.PerformedAt, &h.IPAddress, &h.UserAgent, &h.AdminNotes); err != nil {
			return nil, err
		}
		if resID.Valid {
			v := uint64(resID.Int64)
			h.ReservationID = &v
		}
		if len(prev) > 0 {
			h.PreviousData = json.RawMessage(prev)
		}
		if len(newData) > 0 {
			h.NewData = json.RawMessage(newData)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
