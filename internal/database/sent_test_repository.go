package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/psybot/internal/delivery"
	"github.com/example/psybot/pkg/models"
)

// SentTestRepository handles database operations for sent tests. It
// implements delivery.Store.
type SentTestRepository struct{}

// NewSentTestRepository creates a new repository instance
func NewSentTestRepository() *SentTestRepository {
	return &SentTestRepository{}
}

// Create inserts a new sent test row.
func (r *SentTestRepository) Create(ctx context.Context, st *models.SentTest) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	id, err := insertReturningID(ctx, DB, `
		INSERT INTO sent_tests (sender_id, test_id, receiver_username, receiver_id, is_delivered, delivered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.SenderID, st.TestID, st.ReceiverUsername, st.ReceiverID, st.IsDelivered, st.DeliveredAt, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sent test: %v", err)
	}
	st.ID = id
	return nil
}

// Get returns a sent test by id, with the test name joined in.
func (r *SentTestRepository) Get(ctx context.Context, id int64) (*models.SentTest, error) {
	var st models.SentTest
	err := DB.GetContext(ctx, &st, `
		SELECT st.id, st.sender_id, st.test_id, st.receiver_username, st.receiver_id,
		       st.is_delivered, st.is_completed, st.delivered_at, st.completed_at,
		       st.reminded_at, st.created_at, t.name AS test_name
		FROM sent_tests st
		JOIN tests t ON t.id = st.test_id
		WHERE st.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sent test %d: %v", id, err)
	}
	return &st, nil
}

// FindDuplicatePending reports whether the sender already has an incomplete
// sent test for the same receiver username and test. Check-then-insert: the
// caller's subsequent Create is not guarded by a constraint, so concurrent
// sends for the same triple can slip through. Known gap, kept as-is.
func (r *SentTestRepository) FindDuplicatePending(ctx context.Context, senderID int64, receiverUsername string, testID int64) (bool, error) {
	var count int
	err := DB.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sent_tests
		WHERE sender_id = $1 AND receiver_username = $2 AND test_id = $3 AND is_completed = false`,
		senderID, receiverUsername, testID)
	if err != nil {
		return false, fmt.Errorf("failed to check for pending sent test: %v", err)
	}
	return count > 0, nil
}

// ReconcileByUsername binds all undelivered rows addressed to username to the
// given receiver and marks them delivered, in one transaction so two racing
// contact events for the same username cannot interleave the read and the
// write. Returns the number of rows delivered.
func (r *SentTestRepository) ReconcileByUsername(ctx context.Context, receiverID int64, username string) (int, error) {
	tx, err := DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	var ids []int64
	err = tx.SelectContext(ctx, &ids,
		"SELECT id FROM sent_tests WHERE receiver_username = $1 AND is_delivered = false", username)
	if err != nil {
		return 0, fmt.Errorf("failed to select waitlisted rows for %q: %v", username, err)
	}

	now := time.Now()
	for _, id := range ids {
		_, err = tx.ExecContext(ctx, `
			UPDATE sent_tests SET receiver_id = $1, is_delivered = true, delivered_at = $2
			WHERE id = $3`, receiverID, now, id)
		if err != nil {
			return 0, fmt.Errorf("failed to deliver sent test %d: %v", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reconcile for %q: %v", username, err)
	}
	return len(ids), nil
}

// ListUnfinishedByReceiver returns delivered, incomplete sent tests for a
// receiver, oldest first, with test names joined in.
func (r *SentTestRepository) ListUnfinishedByReceiver(ctx context.Context, receiverID int64) ([]models.SentTest, error) {
	var rows []models.SentTest
	err := DB.SelectContext(ctx, &rows, `
		SELECT st.id, st.sender_id, st.test_id, st.receiver_username, st.receiver_id,
		       st.is_delivered, st.is_completed, st.delivered_at, st.completed_at,
		       st.reminded_at, st.created_at, t.name AS test_name
		FROM sent_tests st
		JOIN tests t ON t.id = st.test_id
		WHERE st.receiver_id = $1 AND st.is_completed = false
		ORDER BY st.created_at, st.id`, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished sent tests for %d: %v", receiverID, err)
	}
	return rows, nil
}

// MarkCompleted flips is_completed on the row. The guarded UPDATE makes the
// transition idempotent: a row already completed reports no change, so the
// caller never fires the completion notification twice.
func (r *SentTestRepository) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	res, err := DB.ExecContext(ctx, `
		UPDATE sent_tests SET is_completed = true, completed_at = $1
		WHERE id = $2 AND is_completed = false`, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark sent test %d completed: %v", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %v", err)
	}
	return affected > 0, nil
}

// ListStaleWaitlisted returns undelivered rows created more than age ago that
// have not been reminded about since, for the reminder sweep.
func (r *SentTestRepository) ListStaleWaitlisted(ctx context.Context, age time.Duration) ([]models.SentTest, error) {
	cutoff := time.Now().Add(-age)
	var rows []models.SentTest
	err := DB.SelectContext(ctx, &rows, `
		SELECT st.id, st.sender_id, st.test_id, st.receiver_username, st.receiver_id,
		       st.is_delivered, st.is_completed, st.delivered_at, st.completed_at,
		       st.reminded_at, st.created_at, t.name AS test_name
		FROM sent_tests st
		JOIN tests t ON t.id = st.test_id
		WHERE st.is_delivered = false
		  AND st.created_at <= $1
		  AND (st.reminded_at IS NULL OR st.reminded_at <= $1)
		ORDER BY st.created_at, st.id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale waitlisted tests: %v", err)
	}
	return rows, nil
}

// MarkReminded records that the sender was reminded about a waitlisted row.
func (r *SentTestRepository) MarkReminded(ctx context.Context, id int64) error {
	_, err := DB.ExecContext(ctx,
		"UPDATE sent_tests SET reminded_at = $1 WHERE id = $2", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark sent test %d reminded: %v", id, err)
	}
	return nil
}
