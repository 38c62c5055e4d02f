package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

// settingsRowID is the primary key of the singleton reservation_settings row.
const settingsRowID = 1

// SettingsRepo reads and writes the reservation window row. There is at
// most one row; Get returns ErrNotFound until EnsureDefault has created it.
type SettingsRepo struct{ DB *sql.DB }

func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{DB: db} }

// Get returns the settings row or ErrNotFound before EnsureDefault ran.
func (r *SettingsRepo) Get(ctx context.Context) (*model.ReservationSettings, error) {
	var (
		s                    model.ReservationSettings
		createdBy, updatedBy sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT open_at, is_open, description, created_by, updated_by, created_at, updated_at
		 FROM reservation_settings WHERE id=?`, settingsRowID).
		Scan(&s.OpenAt, &s.ManualOpen, &s.Description, &createdBy, &updatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		v := uint64(createdBy.Int64)
		s.CreatedBy = &v
	}
	if updatedBy.Valid {
		v := uint64(updatedBy.Int64)
		s.UpdatedBy = &v
	}
	return &s, nil
}

// EnsureDefault inserts the singleton row with the given schedule unless it
// already exists. Existing admin edits are kept.
func (r *SettingsRepo) EnsureDefault(ctx context.Context, openAt time.Time, open bool, description string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT IGNORE INTO reservation_settings (id, open_at, is_open, description) VALUES (?,?,?,?)`,
		settingsRowID, openAt, open, description)
	return err
}

// Update overwrites the schedule and records the admin who changed it.
func (r *SettingsRepo) Update(ctx context.Context, openAt time.Time, open bool, description string, by uint64) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE reservation_settings SET open_at=?, is_open=?, description=?, updated_by=? WHERE id=?`,
		openAt, open, description, by, settingsRowID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// Toggle flips the manual override and returns the new value.
func (r *SettingsRepo) Toggle(ctx context.Context, by uint64) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var open bool
	if err := tx.QueryRowContext(ctx,
		"SELECT is_open FROM reservation_settings WHERE id=? FOR UPDATE", settingsRowID).Scan(&open); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	open = !open
	if _, err := tx.ExecContext(ctx,
		"UPDATE reservation_settings SET is_open=?, updated_by=? WHERE id=?", open, by, settingsRowID); err != nil {
		return false, err
	}
	return open, tx.Commit()
}
