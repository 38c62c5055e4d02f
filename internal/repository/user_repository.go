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

// UserRepo persists rows of the users table. Soft-deleted users keep
// their row with deleted_at set. Single-row lookups still return them;
// the list and count queries skip them. The national id is stored only
// as ciphertext plus a keyed blind index; uniqueness of both email and
// national id is enforced by the schema and reported as ErrEmailExists
// and ErrNationalIDExists.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, name, email, password_hash, phone, guardian_phone, guardian_relationship,
	grade, class_number, gender, national_id_enc, COALESCE(national_id_index, ''), role, is_active,
	deleted_at, special_requests, room_number, room_assigned_at, room_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u          model.User
		classNum   sql.NullInt64
		deletedAt  sql.NullTime
		roomNumber sql.NullString
		assignedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.GuardianPhone,
		&u.GuardianRelationship, &u.Grade, &classNum, &u.Gender, &u.NationalIDEnc, &u.NationalIDIndex,
		&u.Role, &u.IsActive, &deletedAt, &u.SpecialRequests, &roomNumber, &assignedAt,
		&u.RoomAssignment.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if classNum.Valid {
		n := int(classNum.Int64)
		u.ClassNumber = &n
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	if roomNumber.Valid {
		s := roomNumber.String
		u.RoomAssignment.RoomNumber = &s
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		u.RoomAssignment.AssignedAt = &t
	}
	return &u, nil
}

// Create inserts a user whose password is already hashed and returns its id.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = "user"
	}
	var nidIndex any
	if u.NationalIDIndex != "" {
		nidIndex = u.NationalIDIndex
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, phone, guardian_phone, guardian_relationship,
			grade, class_number, gender, national_id_enc, national_id_index, role, special_requests)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.Name, u.Email, u.PasswordHash, u.Phone, u.GuardianPhone, u.GuardianRelationship,
		u.Grade, u.ClassNumber, u.Gender, u.NationalIDEnc, nidIndex, u.Role, u.SpecialRequests)
	if err != nil {
		if key, ok := duplicateKey(err); ok {
			if key == "uq_users_national_id" {
				return 0, ErrNationalIDExists
			}
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = uint64(id)
	return u.ID, nil
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id, including soft-deleted rows.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.getOne(ctx, "id=?", id)
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "email=?", strings.ToLower(strings.TrimSpace(email)))
}

// GetByNationalIDIndex fetches a user by the blind index of the national id.
func (r *UserRepo) GetByNationalIDIndex(ctx context.Context, index string) (*model.User, error) {
	return r.getOne(ctx, "national_id_index=?", index)
}

// SetRoomAssignment overwrites the denormalized assignment of a user.
func (r *UserRepo) SetRoomAssignment(ctx context.Context, userID uint64, a model.RoomAssignment) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET room_number=?, room_assigned_at=?, room_status=? WHERE id=?",
		a.RoomNumber, a.AssignedAt, a.Status, userID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListAssigned returns every user whose assignment status is 'assigned'.
func (r *UserRepo) ListAssigned(ctx context.Context) ([]model.User, error) {
	return r.query(ctx, "SELECT "+userColumns+" FROM users WHERE room_status='assigned' ORDER BY id")
}

// UserFilter narrows the admin user listing.
type UserFilter struct {
	Query      string // matched against name and email
	Gender     string
	Grade      string
	RoomStatus string
	Page       int
	Limit      int
}

// List returns active (non-deleted) users matching f and the total count.
func (r *UserRepo) List(ctx context.Context, f UserFilter) ([]model.User, int, error) {
	where := []string{"deleted_at IS NULL"}
	args := []any{}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(name LIKE ? OR email LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.Gender != "" {
		where = append(where, "gender=?")
		args = append(args, f.Gender)
	}
	if f.Grade != "" {
		where = append(where, "grade=?")
		args = append(args, f.Grade)
	}
	if f.RoomStatus != "" {
		where = append(where, "room_status=?")
		args = append(args, f.RoomStatus)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageWindow(f.Page, f.Limit)
	q := fmt.Sprintf("SELECT %s FROM users WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d",
		userColumns, cond, limit, offset)
	users, err := r.query(ctx, q, args...)
	return users, total, err
}

// ListWithNationalID returns active users that have an encrypted national id.
// Birth-date search decrypts these in memory.
func (r *UserRepo) ListWithNationalID(ctx context.Context) ([]model.User, error) {
	return r.query(ctx, "SELECT "+userColumns+
		" FROM users WHERE deleted_at IS NULL AND national_id_enc <> '' ORDER BY id")
}

// ProfileUpdate holds the admin-editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name                 *string
	Phone                *string
	GuardianPhone        *string
	GuardianRelationship *string
	Grade                *string
	ClassNumber          *int
	SpecialRequests      *string
	IsActive             *bool
}

// UpdateProfile applies the non-nil fields of p.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, p ProfileUpdate) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Phone != nil {
		add("phone", *p.Phone)
	}
	if p.GuardianPhone != nil {
		add("guardian_phone", *p.GuardianPhone)
	}
	if p.GuardianRelationship != nil {
		add("guardian_relationship", *p.GuardianRelationship)
	}
	if p.Grade != nil {
		add("grade", *p.Grade)
	}
	if p.ClassNumber != nil {
		add("class_number", *p.ClassNumber)
	}
	if p.SpecialRequests != nil {
		add("special_requests", *p.SpecialRequests)
	}
	if p.IsActive != nil {
		add("is_active", *p.IsActive)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=? AND deleted_at IS NULL", args...)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetGender overwrites the stored gender. The admin backfill derives it from
// the national id.
func (r *UserRepo) SetGender(ctx context.Context, id uint64, gender string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET gender=? WHERE id=? AND deleted_at IS NULL", gender, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SoftDelete masks the personal data of a user in place and deactivates the
// account. The row is never removed so audit references stay valid.
func (r *UserRepo) SoftDelete(ctx context.Context, id uint64, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET
			name='(deleted user)', email=?, password_hash='', phone='', guardian_phone='',
			national_id_enc='', national_id_index=NULL, is_active=0, deleted_at=?,
			room_number=NULL, room_assigned_at=NULL, room_status='pending'
		 WHERE id=? AND deleted_at IS NULL`,
		fmt.Sprintf("deleted_%d_%d@deleted.com", id, now.UnixMilli()), now, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// CountAdmins returns the number of admin accounts.
func (r *UserRepo) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role='admin' AND deleted_at IS NULL").Scan(&n)
	return n, err
}

func (r *UserRepo) query(ctx context.Context, q string, args ...any) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// expectRow turns a zero-row update into ErrNotFound.
func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// pageWindow clamps page/limit and returns LIMIT and OFFSET values.
func pageWindow(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
