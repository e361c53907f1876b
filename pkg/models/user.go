package models

import "time"

// User represents a Telegram user known to the bot. The ID is the Telegram
// chat id; the username is what senders address tests to, so it is refreshed
// on every contact in case the user renamed themselves.
type User struct {
	ID        int64     `json:"id" db:"id"` // Telegram chat ID
	Username  string    `json:"username" db:"username"`
	IsAdmin   bool      `json:"is_admin" db:"is_admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
