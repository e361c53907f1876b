// Package delivery manages sent-test records: tests assigned from one user to
// another by username, tracked through the waitlist, delivery on first
// contact, and completion.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/psybot/pkg/models"
)

var (
	// ErrNotFound is returned when a sent test id is unknown.
	ErrNotFound = errors.New("sent test not found")
	// ErrDuplicatePending is returned when the sender already has an
	// incomplete sent test for the same receiver and test.
	ErrDuplicatePending = errors.New("pending sent test already exists for this receiver and test")
)

// Store is the persistence interface for sent tests.
type Store interface {
	Create(ctx context.Context, st *models.SentTest) error
	FindDuplicatePending(ctx context.Context, senderID int64, receiverUsername string, testID int64) (bool, error)
	// ReconcileByUsername binds every undelivered row addressed to username
	// to the given receiver id and marks it delivered, all in one
	// transaction. It returns the number of rows delivered.
	ReconcileByUsername(ctx context.Context, receiverID int64, username string) (int, error)
	ListUnfinishedByReceiver(ctx context.Context, receiverID int64) ([]models.SentTest, error)
	// MarkCompleted flips is_completed on the row, returning false when the
	// row was already completed.
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (*models.SentTest, error)
}

// Users looks up known users by username, for immediate delivery at send
// time. An unknown username is (nil, nil), not an error.
type Users interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// Notifier sends a fire-and-forget message to a user. A failed send is
// non-fatal to the operation that triggered it.
type Notifier interface {
	Notify(userID int64, text string) error
}

// TestDirectory resolves a test id to its display name for notifications.
type TestDirectory interface {
	GetTestName(ctx context.Context, testID int64) (string, error)
}

// Queue coordinates sent-test creation, waitlist reconciliation and
// completion.
type Queue struct {
	store    Store
	users    Users
	notifier Notifier
	tests    TestDirectory
	now      func() time.Time
}

// NewQueue creates a delivery queue over the given collaborators.
func NewQueue(store Store, users Users, notifier Notifier, tests TestDirectory) *Queue {
	return &Queue{
		store:    store,
		users:    users,
		notifier: notifier,
		tests:    tests,
		now:      time.Now,
	}
}

// CreateSentTest records a new assignment from senderID to receiverUsername.
// If the receiver is already known the row is delivered immediately and the
// receiver is told about the new test; otherwise the row is waitlisted until
// the receiver first contacts the bot.
//
// The duplicate-pending check is check-then-insert, not atomic: two
// concurrent sends for the same (sender, receiver, test) triple can both
// succeed. Accepted as a documented gap rather than fixed with a constraint.
func (q *Queue) CreateSentTest(ctx context.Context, senderID int64, receiverUsername string, testID int64) (*models.SentTest, error) {
	exists, err := q.store.FindDuplicatePending(ctx, senderID, receiverUsername, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for pending sent test: %w", err)
	}
	if exists {
		return nil, ErrDuplicatePending
	}

	st := &models.SentTest{
		SenderID:         senderID,
		TestID:           testID,
		ReceiverUsername: receiverUsername,
	}

	receiver, err := q.users.FindByUsername(ctx, receiverUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to look up receiver %q: %w", receiverUsername, err)
	}
	if receiver != nil {
		st.ReceiverID = sql.NullInt64{Int64: receiver.ID, Valid: true}
		st.IsDelivered = true
		st.DeliveredAt = sql.NullTime{Time: q.now(), Valid: true}
	}

	if err := q.store.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to create sent test: %w", err)
	}

	if st.IsDelivered {
		name := q.testName(ctx, testID)
		if err := q.notifier.Notify(st.ReceiverID.Int64, fmt.Sprintf("You have been sent the test \"%s\". Use /start to see your pending tests.", name)); err != nil {
			log.Printf("Failed to notify receiver %d about sent test %d: %v", st.ReceiverID.Int64, st.ID, err)
		}
	}

	return st, nil
}

// ReconcileOnContact binds every waitlisted row addressed to username to the
// contacting user and marks them delivered. It must run before unfinished
// tests are listed in the same interaction, so a row delivered here is
// immediately visible as unfinished work. Idempotent: a second call finds no
// undelivered rows. The read-then-write runs inside one store transaction, so
// two racing contact events for the same username cannot lose updates.
func (q *Queue) ReconcileOnContact(ctx context.Context, receiverID int64, username string) error {
	delivered, err := q.store.ReconcileByUsername(ctx, receiverID, username)
	if err != nil {
		return fmt.Errorf("failed to reconcile sent tests for %q: %w", username, err)
	}
	if delivered > 0 {
		log.Printf("Delivered %d waitlisted tests to user %d (@%s)", delivered, receiverID, username)
	}
	return nil
}

// GetSentTest returns a sent test by id.
func (q *Queue) GetSentTest(ctx context.Context, sentTestID int64) (*models.SentTest, error) {
	return q.store.Get(ctx, sentTestID)
}

// ListUnfinishedForReceiver returns the delivered-but-not-completed sent
// tests for a receiver.
func (q *Queue) ListUnfinishedForReceiver(ctx context.Context, receiverID int64) ([]models.SentTest, error) {
	return q.store.ListUnfinishedByReceiver(ctx, receiverID)
}

// NotifyOwnerOnStart tells the sender that the receiver has begun answering.
// It is invoked once per attempt, on the confirm transition, never on
// resumption. A failed notification is logged and swallowed.
func (q *Queue) NotifyOwnerOnStart(ctx context.Context, sentTestID int64, receiverUsername string) error {
	st, err := q.store.Get(ctx, sentTestID)
	if err != nil {
		return err
	}
	name := q.testName(ctx, st.TestID)
	text := fmt.Sprintf("@%s started the test \"%s\" you sent them.", receiverUsername, name)
	if err := q.notifier.Notify(st.SenderID, text); err != nil {
		log.Printf("Failed to notify sender %d about start of sent test %d: %v", st.SenderID, sentTestID, err)
	}
	return nil
}

// CompleteSentTest marks the row completed and notifies the sender with the
// final score and interpretation. Idempotent: a second call changes nothing
// and does not re-fire the notification.
func (q *Queue) CompleteSentTest(ctx context.Context, sentTestID int64, score int, interpretation string) error {
	st, err := q.store.Get(ctx, sentTestID)
	if err != nil {
		return err
	}

	changed, err := q.store.MarkCompleted(ctx, sentTestID)
	if err != nil {
		return fmt.Errorf("failed to mark sent test %d completed: %w", sentTestID, err)
	}
	if !changed {
		return nil
	}

	name := q.testName(ctx, st.TestID)
	text := fmt.Sprintf("@%s completed the test \"%s\" you sent them.\n\nScore: %d\nInterpretation: %s",
		st.ReceiverUsername, name, score, interpretation)
	if err := q.notifier.Notify(st.SenderID, text); err != nil {
		log.Printf("Failed to notify sender %d about completion of sent test %d: %v", st.SenderID, sentTestID, err)
	}
	return nil
}

func (q *Queue) testName(ctx context.Context, testID int64) string {
	name, err := q.tests.GetTestName(ctx, testID)
	if err != nil {
		log.Printf("Failed to resolve name of test %d: %v", testID, err)
		return fmt.Sprintf("#%d", testID)
	}
	return name
}
