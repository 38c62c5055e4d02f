package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// schema is applied in order by Migrate. Every statement is idempotent.
//
// MySQL has no partial indexes, so the "one active reservation per user" and
// "one active reservation per bed" rules are expressed through generated
// columns that are NULL unless status is 'active'. NULLs never collide in a
// unique index.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		phone VARCHAR(20) NOT NULL DEFAULT '',
		guardian_phone VARCHAR(20) NOT NULL DEFAULT '',
		guardian_relationship VARCHAR(20) NOT NULL DEFAULT '',
		grade VARCHAR(2) NOT NULL DEFAULT '',
		class_number INT NULL,
		gender ENUM('M','F') NOT NULL,
		national_id_enc VARCHAR(128) NOT NULL DEFAULT '',
		national_id_index CHAR(64) NULL,
		role ENUM('user','admin') NOT NULL DEFAULT 'user',
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		deleted_at DATETIME NULL,
		special_requests VARCHAR(500) NOT NULL DEFAULT '',
		room_number VARCHAR(12) NULL,
		room_assigned_at DATETIME NULL,
		room_status ENUM('pending','assigned','checked-in','checked-out') NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_national_id (national_id_index),
		KEY idx_users_room_status (room_status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_hash (token_hash),
		KEY idx_refresh_user (user_id),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS rooms (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		room_number VARCHAR(12) NOT NULL,
		floor TINYINT UNSIGNED NOT NULL,
		capacity TINYINT UNSIGNED NOT NULL,
		gender ENUM('M','F','shared') NOT NULL,
		amenities VARCHAR(500) NOT NULL DEFAULT '',
		description VARCHAR(500) NOT NULL DEFAULT '',
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_rooms_number (room_number),
		KEY idx_rooms_floor (floor),
		CONSTRAINT chk_rooms_floor CHECK (floor BETWEEN 1 AND 10),
		CONSTRAINT chk_rooms_capacity CHECK (capacity IN (2,3,4,10,20))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS room_occupants (
		room_id BIGINT UNSIGNED NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		bed_number TINYINT UNSIGNED NOT NULL,
		assigned_at DATETIME NOT NULL,
		PRIMARY KEY (room_id, bed_number),
		KEY idx_occupants_user (user_id),
		CONSTRAINT fk_occupants_room FOREIGN KEY (room_id) REFERENCES rooms(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		room_id BIGINT UNSIGNED NOT NULL,
		bed_number TINYINT UNSIGNED NOT NULL,
		status ENUM('active','cancelled','expired') NOT NULL DEFAULT 'active',
		reserved_at DATETIME NOT NULL,
		cancelled_at DATETIME NULL,
		cancelled_by BIGINT UNSIGNED NULL,
		cancel_reason VARCHAR(200) NOT NULL DEFAULT '',
		special_requests VARCHAR(500) NOT NULL DEFAULT '',
		notes VARCHAR(1000) NOT NULL DEFAULT '',
		actual_check_in DATETIME NULL,
		actual_check_out DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		active_user_id BIGINT UNSIGNED AS (IF(status = 'active', user_id, NULL)) STORED,
		active_room_id BIGINT UNSIGNED AS (IF(status = 'active', room_id, NULL)) STORED,
		active_bed_number TINYINT UNSIGNED AS (IF(status = 'active', bed_number, NULL)) STORED,
		UNIQUE KEY uq_reservations_active_user (active_user_id),
		UNIQUE KEY uq_reservations_active_bed (active_room_id, active_bed_number),
		KEY idx_reservations_user (user_id),
		KEY idx_reservations_room (room_id),
		KEY idx_reservations_status (status),
		CONSTRAINT fk_reservations_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservation_history (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		room_id BIGINT UNSIGNED NOT NULL,
		reservation_id BIGINT UNSIGNED NULL,
		action ENUM('reserved','cancelled','checked_in','checked_out','modified') NOT NULL,
		bed_number TINYINT UNSIGNED NOT NULL,
		previous_data JSON NULL,
		new_data JSON NULL,
		reason VARCHAR(200) NOT NULL DEFAULT '',
		performed_by BIGINT UNSIGNED NOT NULL,
		performed_at DATETIME NOT NULL,
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		user_agent VARCHAR(255) NOT NULL DEFAULT '',
		admin_notes VARCHAR(500) NOT NULL DEFAULT '',
		KEY idx_history_user (user_id, performed_at),
		KEY idx_history_room (room_id, performed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservation_settings (
		id TINYINT UNSIGNED PRIMARY KEY,
		open_at DATETIME NOT NULL,
		is_open TINYINT(1) NOT NULL DEFAULT 0,
		description VARCHAR(500) NOT NULL DEFAULT '',
		created_by BIGINT UNSIGNED NULL,
		updated_by BIGINT UNSIGNED NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// upgrades adjust tables created by earlier releases. Reservations keep
// their room_id after the room is deleted, so the room foreign key is gone.
var upgrades = []string{
	"ALTER TABLE reservations DROP FOREIGN KEY fk_reservations_room",
}

// mysqlCantDrop is returned when the key or column to drop does not exist.
const mysqlCantDrop = 1091

// Migrate creates every table that does not exist yet, then applies the
// upgrades that are still pending.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	for i, stmt := range upgrades {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			var me *mysql.MySQLError
			if errors.As(err, &me) && me.Number == mysqlCantDrop {
				continue
			}
			return fmt.Errorf("upgrade step %d: %w", i, err)
		}
	}
	return nil
}
