package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/psybot/internal/database"
)

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	notifier  Notifier
	age       time.Duration
}

// Notifier interface for sending notifications
type Notifier interface {
	Notify(userID int64, text string) error
}

// New creates a new scheduler instance. age is how long a sent test may stay
// waitlisted before the sender is reminded about it.
func New(notifier Notifier, age time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		notifier:  notifier,
		age:       age,
	}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() {
	// Hourly sweep over waitlisted sent tests whose receiver never showed up
	s.scheduler.Every(1).Hour().Do(s.remindStaleWaitlisted)

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// remindStaleWaitlisted tells senders about sent tests that have sat
// undelivered for longer than the configured age. Each row is reminded about
// once per age window: MarkReminded pushes it out of the next sweeps.
func (s *Scheduler) remindStaleWaitlisted() {
	ctx := context.Background()
	repo := database.NewSentTestRepository()

	stale, err := repo.ListStaleWaitlisted(ctx, s.age)
	if err != nil {
		log.Printf("Error listing stale waitlisted tests: %v", err)
		return
	}

	for _, st := range stale {
		text := fmt.Sprintf("The test \"%s\" you sent to @%s is still waiting: they have not contacted the bot yet.",
			st.TestName, st.ReceiverUsername)
		if err := s.notifier.Notify(st.SenderID, text); err != nil {
			log.Printf("Error reminding sender %d about sent test %d: %v", st.SenderID, st.ID, err)
			continue
		}
		if err := repo.MarkReminded(ctx, st.ID); err != nil {
			log.Printf("Error marking sent test %d reminded: %v", st.ID, err)
		}
	}
}
