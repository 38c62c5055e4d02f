// Package repository holds the MySQL stores. Sentinel errors declared here
// let the service and handler layers tell failure modes apart without
// inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write cannot proceed because of
	// dependent state, such as deleting a room that still has occupants.
	ErrConflict = errors.New("conflict")

	// ErrEmailExists and ErrNationalIDExists map the users unique keys.
	ErrEmailExists      = errors.New("email already exists")
	ErrNationalIDExists = errors.New("national id already registered")

	// ErrRoomNumberExists maps the rooms unique key.
	ErrRoomNumberExists = errors.New("room number already exists")

	// ErrDuplicateActiveUser is raised by the store when the user already
	// holds an active reservation.
	ErrDuplicateActiveUser = errors.New("user already has an active reservation")

	// ErrDuplicateActiveBed is raised by the store when the bed already has
	// an active reservation.
	ErrDuplicateActiveBed = errors.New("bed already has an active reservation")

	// ErrBedTaken is raised when the (room, bed) occupant row already exists.
	ErrBedTaken = errors.New("bed already occupied")
)

const mysqlDuplicateEntry = 1062

// duplicateKey returns the violated index name when err is a MySQL duplicate
// entry error, and ok=false otherwise.
func duplicateKey(err error) (key string, ok bool) {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return "", false
	}
	// Message format: Duplicate entry '7' for key 'reservations.uq_reservations_active_user'
	msg := me.Message
	if i := strings.LastIndex(msg, "for key '"); i >= 0 {
		key = strings.TrimSuffix(msg[i+len("for key '"):], "'")
		if j := strings.LastIndex(key, "."); j >= 0 {
			key = key[j+1:]
		}
	}
	return key, true
}
