package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/psybot/internal/catalog"
	"github.com/example/psybot/pkg/models"
)

// ErrNoSession is returned when a choice arrives for a user with no session
// in progress, for example after completion or a process restart.
var ErrNoSession = errors.New("no session in progress")

// Manager is the session registry: one session per user id, with events for
// the same user serialized behind a per-user lock while different users run
// fully concurrently. Sessions are evicted on completion and abandonment.
type Manager struct {
	mu      sync.Mutex
	entries map[int64]*entry

	catalog     catalog.Catalog
	assignments Assignments
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewManager creates a session registry over the given catalog and delivery
// queue.
func NewManager(cat catalog.Catalog, assignments Assignments) *Manager {
	return &Manager{
		entries:     make(map[int64]*entry),
		catalog:     cat,
		assignments: assignments,
	}
}

func (m *Manager) entryFor(userID int64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		e = &entry{}
		m.entries[userID] = e
	}
	return e
}

// StartSelection begins (or restarts) a session in test selection and returns
// the prompt listing active tests. Any previous attempt by the same user is
// discarded.
func (m *Manager) StartSelection(ctx context.Context, userID int64, username string) (Outcome, error) {
	e := m.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := m.selectionOutcome(ctx)
	if err != nil {
		return Outcome{}, err
	}
	e.sess = &Session{userID: userID, username: username, state: StateSelectingTest}
	return out, nil
}

// StartAssigned begins a session for a sent test, entering directly at the
// confirmation step with the originating sent-test id attached. The snapshot
// is loaded here, so the receiver answers the test as it was when they
// started it.
func (m *Manager) StartAssigned(ctx context.Context, userID int64, username string, st *models.SentTest) (Outcome, error) {
	test, err := m.catalog.GetTestSnapshot(ctx, st.TestID)
	if err != nil {
		return Outcome{}, err
	}

	e := m.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess = &Session{
		userID:     userID,
		username:   username,
		state:      StateConfirmingTest,
		test:       test,
		sentTestID: st.ID,
	}
	return Outcome{Prompt: e.sess.confirmationPrompt()}, nil
}

// HandleChoice routes a user's selection to their session, mapping the raw
// selection id to the event the current state expects. Events for one user
// are processed strictly one at a time.
func (m *Manager) HandleChoice(ctx context.Context, userID int64, selectionID int64) (Outcome, error) {
	e := m.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return Outcome{}, ErrNoSession
	}

	ev, err := eventForChoice(e.sess.state, selectionID)
	if err != nil {
		return Outcome{}, err
	}

	out, err := e.sess.handle(ctx, ev, m)
	if e.sess.state == StateCompleted {
		e.sess = nil
	}
	return out, err
}

// Abandon discards the user's session, if any. Nothing is persisted: only
// completion commits externally visible effects.
func (m *Manager) Abandon(userID int64) {
	e := m.entryFor(userID)
	e.mu.Lock()
	e.sess = nil
	e.mu.Unlock()
}

// InProgress reports whether the user currently has a session.
func (m *Manager) InProgress(userID int64) bool {
	e := m.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// eventForChoice maps a raw selection id onto the event valid for the current
// state: a test id during selection, confirm/cancel during confirmation, an
// answer option id or the back control while answering.
func eventForChoice(state State, selectionID int64) (Event, error) {
	switch state {
	case StateSelectingTest:
		return ChooseTest{TestID: selectionID}, nil
	case StateConfirmingTest:
		switch selectionID {
		case ChoiceConfirm:
			return Confirm{}, nil
		case ChoiceCancel:
			return Cancel{}, nil
		}
		return nil, ErrUnexpectedEvent
	case StateAnsweringQuestions:
		if selectionID == ChoiceBack {
			return GoBack{}, nil
		}
		return SelectAnswer{OptionID: selectionID}, nil
	default:
		return nil, ErrUnexpectedEvent
	}
}

// selectionOutcome builds the test-selection prompt from the active catalog.
func (m *Manager) selectionOutcome(ctx context.Context) (Outcome, error) {
	tests, err := m.catalog.ListActiveTests(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list active tests: %w", err)
	}
	choices := make([]Choice, 0, len(tests))
	for _, t := range tests {
		choices = append(choices, Choice{ID: t.ID, Label: t.Name})
	}
	text := "Please choose a psychological test:"
	if len(choices) == 0 {
		text = "No psychological tests available at the moment."
	}
	return Outcome{Prompt: &Prompt{Text: text, Choices: choices}}, nil
}
