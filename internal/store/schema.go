package store

// Both schemas keep (member_id, attendance_date) unique so a toggle can be a
// single keyed upsert.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS members (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_user_created ON members(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		member_id       TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		attendance_date DATE NOT NULL,
		present         BOOLEAN NOT NULL,
		UNIQUE (member_id, attendance_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_records(attendance_date)`,
	`CREATE TABLE IF NOT EXISTS session_audit (
		id       TEXT PRIMARY KEY,
		user_id  TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT '',
		event    TEXT NOT NULL,
		event_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_audit_user ON session_audit(user_id, event_at DESC)`,
}

// go-sqlite3 only converts DATE/DATETIME/TIMESTAMP declared columns to time.Time.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS members (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_user_created ON members(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		member_id       TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		attendance_date DATE NOT NULL,
		present         BOOLEAN NOT NULL,
		UNIQUE (member_id, attendance_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_records(attendance_date)`,
	`CREATE TABLE IF NOT EXISTS session_audit (
		id       TEXT PRIMARY KEY,
		user_id  TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT '',
		event    TEXT NOT NULL,
		event_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_audit_user ON session_audit(user_id, event_at DESC)`,
}
