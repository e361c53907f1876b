// Package session drives the per-user test-taking conversation: test
// selection, confirmation, question-by-question answering with optional back
// navigation, and completion. Session state lives only in memory for the
// lifetime of one attempt; a process restart loses in-progress attempts.
// Only completion commits externally visible effects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/example/psybot/internal/scoring"
	"github.com/example/psybot/pkg/models"
)

var (
	// ErrInvalidSelection is returned when the selected option does not
	// belong to the current question. The session is left unchanged and the
	// same question is re-prompted.
	ErrInvalidSelection = errors.New("selected answer does not belong to the current question")
	// ErrUnscorableResult is returned when the final score matches no result
	// band. This is a test-configuration defect, not user error; the session
	// is cleared without producing a result.
	ErrUnscorableResult = errors.New("final score matches no result band")
	// ErrUnexpectedEvent is returned when an event does not apply to the
	// session's current state. The session is left unchanged.
	ErrUnexpectedEvent = errors.New("event not valid in current session state")
)

// State identifies where a session is in the test-taking conversation.
type State int

const (
	StateSelectingTest State = iota
	StateConfirmingTest
	StateAnsweringQuestions
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateSelectingTest:
		return "selecting_test"
	case StateConfirmingTest:
		return "confirming_test"
	case StateAnsweringQuestions:
		return "answering_questions"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Assignments is the slice of the delivery queue the session machine needs
// when an attempt originates from a sent test.
type Assignments interface {
	NotifyOwnerOnStart(ctx context.Context, sentTestID int64, receiverUsername string) error
	CompleteSentTest(ctx context.Context, sentTestID int64, score int, interpretation string) error
}

// Choice is one selectable option offered to the user.
type Choice struct {
	ID    int64
	Label string
}

// Prompt asks the user to pick one of Choices. CanGoBack tells the transport
// to offer a back control alongside the choices.
type Prompt struct {
	Text      string
	Choices   []Choice
	CanGoBack bool
}

// ResultMessage carries the completed attempt's outcome.
type ResultMessage struct {
	Text           string
	Score          int
	Interpretation string
}

// Outcome is what a handled event produces: exactly one of Prompt or Result
// is set on success. On ErrInvalidSelection, Prompt re-asks the unchanged
// current question.
type Outcome struct {
	Prompt *Prompt
	Result *ResultMessage
}

// Session holds one user's in-progress attempt. All mutation goes through the
// Manager, which serializes events per user.
type Session struct {
	userID   int64
	username string

	state   State
	test    *models.Test
	index   int
	score   int
	history []models.AnswerOption

	// sentTestID is non-zero when the attempt originates from a sent test.
	sentTestID    int64
	ownerNotified bool
}

// State returns the session's current conversation state.
func (s *Session) State() State { return s.state }

// Score returns the cumulative score of the confirmed answers so far.
func (s *Session) Score() int { return s.score }

// QuestionIndex returns the index of the question currently being asked.
func (s *Session) QuestionIndex() int { return s.index }

// handle applies one event. Caller holds the per-session lock.
func (s *Session) handle(ctx context.Context, ev Event, deps *Manager) (Outcome, error) {
	switch e := ev.(type) {
	case ChooseTest:
		return s.chooseTest(ctx, e.TestID, deps)
	case Confirm:
		return s.confirm(ctx, deps)
	case Cancel:
		return s.cancel(ctx, deps)
	case SelectAnswer:
		return s.selectAnswer(ctx, e.OptionID, deps)
	case GoBack:
		return s.goBack()
	default:
		return Outcome{}, ErrUnexpectedEvent
	}
}

func (s *Session) chooseTest(ctx context.Context, testID int64, deps *Manager) (Outcome, error) {
	if s.state != StateSelectingTest {
		return Outcome{}, ErrUnexpectedEvent
	}
	test, err := deps.catalog.GetTestSnapshot(ctx, testID)
	if err != nil {
		// NotFound and transient fetch errors alike leave the session in
		// selection; the user can pick again.
		return Outcome{}, err
	}
	s.test = test
	s.state = StateConfirmingTest
	return Outcome{Prompt: s.confirmationPrompt()}, nil
}

func (s *Session) confirm(ctx context.Context, deps *Manager) (Outcome, error) {
	if s.state != StateConfirmingTest {
		return Outcome{}, ErrUnexpectedEvent
	}

	// Owner notification fires exactly once per attempt, here on the
	// confirm transition. Failure is a degraded notification, not a failed
	// start.
	if s.sentTestID != 0 && !s.ownerNotified {
		s.ownerNotified = true
		if err := deps.assignments.NotifyOwnerOnStart(ctx, s.sentTestID, s.username); err != nil {
			log.Printf("Failed to notify owner of sent test %d on start: %v", s.sentTestID, err)
		}
	}

	// A test with no questions ends immediately: the empty answer history
	// scores zero and is interpreted like any other final score. A
	// completion persistence failure returns before any state changes, so
	// confirming again retries.
	if len(s.test.Questions) == 0 {
		band, ok := scoring.ResolveResultBand(s.test.Results, 0)
		if !ok {
			s.state = StateCompleted
			return Outcome{}, fmt.Errorf("test %d, score %d: %w", s.test.ID, 0, ErrUnscorableResult)
		}
		if s.sentTestID != 0 {
			if err := deps.assignments.CompleteSentTest(ctx, s.sentTestID, 0, band.Text); err != nil {
				return Outcome{}, fmt.Errorf("failed to complete sent test %d: %w", s.sentTestID, err)
			}
		}
		s.index = 0
		s.score = 0
		s.history = nil
		s.state = StateCompleted
		return Outcome{Result: s.resultMessage(band)}, nil
	}

	s.index = 0
	s.score = 0
	s.history = nil
	s.state = StateAnsweringQuestions
	return Outcome{Prompt: s.questionPrompt()}, nil
}

func (s *Session) cancel(ctx context.Context, deps *Manager) (Outcome, error) {
	if s.state != StateConfirmingTest {
		return Outcome{}, ErrUnexpectedEvent
	}
	s.test = nil
	s.state = StateSelectingTest
	return deps.selectionOutcome(ctx)
}

func (s *Session) selectAnswer(ctx context.Context, optionID int64, deps *Manager) (Outcome, error) {
	if s.state != StateAnsweringQuestions {
		return Outcome{}, ErrUnexpectedEvent
	}

	question := s.test.Questions[s.index]
	option, ok := question.OptionByID(optionID)
	if !ok {
		// Re-prompt the same question unchanged.
		return Outcome{Prompt: s.questionPrompt()}, ErrInvalidSelection
	}

	if s.index+1 < len(s.test.Questions) {
		s.history = append(s.history, option)
		s.score += option.ScoreValue
		s.index++
		return Outcome{Prompt: s.questionPrompt()}, nil
	}

	// Final answer: resolve the band and commit completion effects before
	// mutating session state, so a persistence failure aborts the operation
	// without advancing score/index/history.
	finalScore := s.score + option.ScoreValue
	band, ok := scoring.ResolveResultBand(s.test.Results, finalScore)
	if !ok {
		s.state = StateCompleted
		return Outcome{}, fmt.Errorf("test %d, score %d: %w", s.test.ID, finalScore, ErrUnscorableResult)
	}

	if s.sentTestID != 0 {
		if err := deps.assignments.CompleteSentTest(ctx, s.sentTestID, finalScore, band.Text); err != nil {
			return Outcome{}, fmt.Errorf("failed to complete sent test %d: %w", s.sentTestID, err)
		}
	}

	s.history = append(s.history, option)
	s.score = finalScore
	s.index++
	s.state = StateCompleted

	return Outcome{Result: s.resultMessage(band)}, nil
}

func (s *Session) goBack() (Outcome, error) {
	if s.state != StateAnsweringQuestions {
		return Outcome{}, ErrUnexpectedEvent
	}
	// Idempotent no-op when back navigation is unavailable.
	if !s.test.AllowBack || s.index == 0 {
		return Outcome{Prompt: s.questionPrompt()}, nil
	}

	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.score -= last.ScoreValue
	s.index--
	return Outcome{Prompt: s.questionPrompt()}, nil
}

func (s *Session) confirmationPrompt() *Prompt {
	return &Prompt{
		Text: fmt.Sprintf("You've selected: %s\n\n%s\n\nAre you ready to start the test?",
			s.test.Name, s.test.Description),
		Choices: []Choice{
			{ID: ChoiceConfirm, Label: "Start Test"},
			{ID: ChoiceCancel, Label: "Back to Test Selection"},
		},
	}
}

func (s *Session) questionPrompt() *Prompt {
	question := s.test.Questions[s.index]
	choices := make([]Choice, 0, len(question.Options))
	for _, opt := range question.Options {
		choices = append(choices, Choice{ID: opt.ID, Label: opt.Text})
	}
	return &Prompt{
		Text:      fmt.Sprintf("Question %d/%d\n\n%s", s.index+1, len(s.test.Questions), question.Text),
		Choices:   choices,
		CanGoBack: s.test.AllowBack && s.index > 0,
	}
}

func (s *Session) resultMessage(band models.ResultBand) *ResultMessage {
	answers := ""
	for i, opt := range s.history {
		answers += fmt.Sprintf("%d. %s\n", i+1, opt.Text)
	}
	return &ResultMessage{
		Text: fmt.Sprintf("Test completed!\n\nYour answers:\n%s\nYour score: %d\n\nInterpretation:\n%s",
			answers, s.score, band.Text),
		Score:          s.score,
		Interpretation: band.Text,
	}
}

// Pseudo-choice ids used by confirmation prompts and the back control. Real
// answer option ids are positive database ids, so negatives cannot collide.
const (
	ChoiceConfirm int64 = -1
	ChoiceCancel  int64 = -2
	ChoiceBack    int64 = -3
)
