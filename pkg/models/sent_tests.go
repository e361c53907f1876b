package models

import (
	"database/sql"
	"time"
)

// SentTest records a test assigned from one user to another, addressed by
// username. If the receiver is unknown at send time the row stays on the
// waitlist (is_delivered = false, receiver_id = NULL) until that user first
// contacts the bot. Rows are never deleted; completion flips is_completed
// exactly once.
type SentTest struct {
	ID               int64         `json:"id" db:"id"`
	SenderID         int64         `json:"sender_id" db:"sender_id"`
	TestID           int64         `json:"test_id" db:"test_id"`
	ReceiverUsername string        `json:"receiver_username" db:"receiver_username"`
	ReceiverID       sql.NullInt64 `json:"receiver_id" db:"receiver_id"`
	IsDelivered      bool          `json:"is_delivered" db:"is_delivered"`
	IsCompleted      bool          `json:"is_completed" db:"is_completed"`
	DeliveredAt      sql.NullTime  `json:"delivered_at" db:"delivered_at"`
	CompletedAt      sql.NullTime  `json:"completed_at" db:"completed_at"`
	RemindedAt       sql.NullTime  `json:"reminded_at" db:"reminded_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`

	// TestName is filled by queries that join the tests table; it is not a
	// column of sent_tests itself.
	TestName string `json:"test_name,omitempty" db:"test_name"`
}
