package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
// Seat counters on sessions are guarded by CHECK constraints as a last
// line of defence behind the conditional updates in the repository.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS shows (
		id               BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		title            VARCHAR(255) NOT NULL,
		company          VARCHAR(255) NOT NULL DEFAULT '',
		description      TEXT NULL,
		duration_minutes INT UNSIGNED NOT NULL DEFAULT 0,
		age_min          INT UNSIGNED NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id                  BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		show_id             BIGINT UNSIGNED NOT NULL,
		starts_at           DATETIME NOT NULL,
		venue               VARCHAR(255) NOT NULL DEFAULT '',
		city                VARCHAR(128) NOT NULL DEFAULT '',
		total_capacity      INT NOT NULL,
		b2c_capacity        INT NULL,
		partner_quota       INT NULL,
		school_capacity     INT NULL,
		booked_seats        INT NOT NULL DEFAULT 0,
		booked_b2c          INT NOT NULL DEFAULT 0,
		booked_partner      INT NOT NULL DEFAULT 0,
		booked_school       INT NOT NULL DEFAULT 0,
		session_type        ENUM('public','school','mixed') NOT NULL DEFAULT 'mixed',
		status              ENUM('draft','published','closed') NOT NULL DEFAULT 'draft',
		price_cents         INT UNSIGNED NOT NULL DEFAULT 0,
		teacher_price_cents INT UNSIGNED NOT NULL DEFAULT 0,
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_sessions_show FOREIGN KEY (show_id) REFERENCES shows(id),
		CONSTRAINT chk_sessions_booked CHECK (booked_seats >= 0 AND booked_seats <= total_capacity),
		INDEX idx_sessions_show_start (show_id, starts_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS organizations (
		id                  BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name                VARCHAR(255) NOT NULL,
		kind                ENUM('private_school','public_school','association','partner') NOT NULL,
		contact_email       VARCHAR(255) NOT NULL,
		city                VARCHAR(128) NOT NULL DEFAULT '',
		verification_status ENUM('pending','under_review','approved','rejected') NOT NULL DEFAULT 'pending',
		api_key_hash        VARCHAR(255) NULL,
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_org_status (verification_status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id                  BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		session_id          BIGINT UNSIGNED NOT NULL,
		requester_id        BIGINT UNSIGNED NOT NULL DEFAULT 0,
		organization_id     BIGINT UNSIGNED NULL,
		category            VARCHAR(32) NOT NULL,
		contact_name        VARCHAR(255) NOT NULL,
		contact_email       VARCHAR(255) NOT NULL,
		contact_phone       VARCHAR(64) NOT NULL DEFAULT '',
		students            INT NOT NULL DEFAULT 0,
		teachers            INT NOT NULL DEFAULT 0,
		adults              INT NOT NULL DEFAULT 0,
		seat_pool           ENUM('b2c','partner','school') NOT NULL,
		student_price_cents INT UNSIGNED NOT NULL DEFAULT 0,
		teacher_price_cents INT UNSIGNED NOT NULL DEFAULT 0,
		adult_price_cents   INT UNSIGNED NOT NULL DEFAULT 0,
		total_cents         BIGINT UNSIGNED NOT NULL DEFAULT 0,
		status              ENUM('pending','quoted','payment_sent','confirmed','rejected','cancelled') NOT NULL DEFAULT 'pending',
		payment_due_at      DATETIME NULL,
		quoted_at           DATETIME NULL,
		payment_sent_at     DATETIME NULL,
		confirmed_at        DATETIME NULL,
		closed_reason       VARCHAR(255) NOT NULL DEFAULT '',
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_bookings_session FOREIGN KEY (session_id) REFERENCES sessions(id),
		CONSTRAINT fk_bookings_org FOREIGN KEY (organization_id) REFERENCES organizations(id),
		INDEX idx_bookings_requester (requester_id),
		INDEX idx_bookings_session_status (session_id, status),
		INDEX idx_bookings_due (status, payment_due_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS documents (
		id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id   BIGINT UNSIGNED NOT NULL,
		kind         ENUM('quote','ticket') NOT NULL,
		reference    CHAR(36) NOT NULL,
		content      MEDIUMBLOB NOT NULL,
		sha256       CHAR(64) NOT NULL,
		generated_at DATETIME NOT NULL,
		CONSTRAINT fk_documents_booking FOREIGN KEY (booking_id) REFERENCES bookings(id),
		UNIQUE KEY uq_documents_reference (reference),
		INDEX idx_documents_booking (booking_id, generated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
