package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/psybot/internal/catalog"
	"github.com/example/psybot/pkg/models"
)

type fakeCatalog struct {
	tests map[int64]*models.Test
}

func (f *fakeCatalog) ListActiveTests(_ context.Context) ([]models.TestSummary, error) {
	var out []models.TestSummary
	for _, t := range f.tests {
		out = append(out, models.TestSummary{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

func (f *fakeCatalog) GetTestSnapshot(_ context.Context, testID int64) (*models.Test, error) {
	t, ok := f.tests[testID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return t, nil
}

type fakeAssignments struct {
	startCalls    int
	startID       int64
	completeCalls int
	completeID    int64
	completeScore int
	completeText  string
	completeErr   error
}

func (f *fakeAssignments) NotifyOwnerOnStart(_ context.Context, sentTestID int64, _ string) error {
	f.startCalls++
	f.startID = sentTestID
	return nil
}

func (f *fakeAssignments) CompleteSentTest(_ context.Context, sentTestID int64, score int, interpretation string) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completeCalls++
	f.completeID = sentTestID
	f.completeScore = score
	f.completeText = interpretation
	return nil
}

// twoQuestionTest mirrors the worked scoring example: Q1 {a:0, b:5},
// Q2 {c:2, d:10}, bands [(0,5,"Low"), (6,15,"High")].
func twoQuestionTest(allowBack bool) *models.Test {
	return &models.Test{
		ID:        1,
		Name:      "Anxiety",
		AllowBack: allowBack,
		IsActive:  true,
		Questions: []models.Question{
			{ID: 10, TestID: 1, Text: "Q1", Options: []models.AnswerOption{
				{ID: 101, QuestionID: 10, Text: "a", ScoreValue: 0},
				{ID: 102, QuestionID: 10, Text: "b", ScoreValue: 5},
			}},
			{ID: 11, TestID: 1, Text: "Q2", Options: []models.AnswerOption{
				{ID: 103, QuestionID: 11, Text: "c", ScoreValue: 2},
				{ID: 104, QuestionID: 11, Text: "d", ScoreValue: 10},
			}},
		},
		Results: []models.ResultBand{
			{MinScore: 0, MaxScore: 5, Text: "Low"},
			{MinScore: 6, MaxScore: 15, Text: "High"},
		},
	}
}

func newTestManager(test *models.Test) (*Manager, *fakeAssignments) {
	asg := &fakeAssignments{}
	cat := &fakeCatalog{tests: map[int64]*models.Test{}}
	if test != nil {
		cat.tests[test.ID] = test
	}
	return NewManager(cat, asg), asg
}

func TestFullWalkLowBand(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	out, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Equal(t, []Choice{{ID: 1, Label: "Anxiety"}}, out.Prompt.Choices)

	out, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Contains(t, out.Prompt.Text, "Anxiety")

	out, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Contains(t, out.Prompt.Text, "Question 1/2")

	out, err = m.HandleChoice(ctx, 42, 101) // a: 0
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Contains(t, out.Prompt.Text, "Question 2/2")

	out, err = m.HandleChoice(ctx, 42, 103) // c: 2
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 2, out.Result.Score)
	assert.Equal(t, "Low", out.Result.Interpretation)

	// Session evicted on completion.
	assert.False(t, m.InProgress(42))
	_, err = m.HandleChoice(ctx, 42, 101)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFullWalkHighBand(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 102) // b: 5
	require.NoError(t, err)
	out, err := m.HandleChoice(ctx, 42, 104) // d: 10
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 15, out.Result.Score)
	assert.Equal(t, "High", out.Result.Interpretation)
}

func TestBackNavigationUndoesScore(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(true))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	out, err := m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	assert.False(t, out.Prompt.CanGoBack)

	out, err = m.HandleChoice(ctx, 42, 102) // b: 5
	require.NoError(t, err)
	assert.True(t, out.Prompt.CanGoBack)

	out, err = m.HandleChoice(ctx, 42, ChoiceBack)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Question 1/2")

	// Back at index 0 is a no-op.
	out, err = m.HandleChoice(ctx, 42, ChoiceBack)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Question 1/2")

	// History is [a] after re-answering; final selection c yields 0+2=2,
	// proving b's contribution was undone.
	_, err = m.HandleChoice(ctx, 42, 101) // a: 0
	require.NoError(t, err)
	out, err = m.HandleChoice(ctx, 42, 103) // c: 2
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 2, out.Result.Score)
}

func TestBackDisallowedIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 102)
	require.NoError(t, err)

	out, err := m.HandleChoice(ctx, 42, ChoiceBack)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Question 2/2")
	assert.False(t, out.Prompt.CanGoBack)
}

func TestInvalidSelectionRepromptsUnchanged(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)

	// 103 belongs to Q2, not the current question.
	out, err := m.HandleChoice(ctx, 42, 103)
	assert.ErrorIs(t, err, ErrInvalidSelection)
	require.NotNil(t, out.Prompt)
	assert.Contains(t, out.Prompt.Text, "Question 1/2")

	// State unchanged: the proper answer still works.
	out, err = m.HandleChoice(ctx, 42, 101)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Question 2/2")
}

func TestCancelReturnsToSelection(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)

	out, err := m.HandleChoice(ctx, 42, ChoiceCancel)
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Contains(t, out.Prompt.Text, "choose a psychological test")

	// Selection works again.
	out, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Anxiety")
}

func TestChooseUnknownTestLeavesSelection(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)

	_, err = m.HandleChoice(ctx, 42, 999)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	// Still selecting: a valid choice proceeds.
	out, err := m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	assert.Contains(t, out.Prompt.Text, "Anxiety")
}

func TestUnscorableResultClearsSession(t *testing.T) {
	test := twoQuestionTest(false)
	test.Results = []models.ResultBand{{MinScore: 100, MaxScore: 200, Text: "unreachable"}}
	ctx := context.Background()
	m, asg := newTestManager(test)

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 101)
	require.NoError(t, err)

	out, err := m.HandleChoice(ctx, 42, 103)
	assert.ErrorIs(t, err, ErrUnscorableResult)
	assert.Nil(t, out.Result)
	assert.False(t, m.InProgress(42))
	assert.Zero(t, asg.completeCalls)
}

func TestAssignedAttemptNotifiesAndCompletes(t *testing.T) {
	ctx := context.Background()
	m, asg := newTestManager(twoQuestionTest(false))

	st := &models.SentTest{ID: 7, SenderID: 99, TestID: 1, ReceiverUsername: "bob"}
	out, err := m.StartAssigned(ctx, 42, "bob", st)
	require.NoError(t, err)
	require.NotNil(t, out.Prompt)
	assert.Zero(t, asg.startCalls)

	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	assert.Equal(t, 1, asg.startCalls)
	assert.Equal(t, int64(7), asg.startID)

	_, err = m.HandleChoice(ctx, 42, 102) // b: 5
	require.NoError(t, err)
	out, err = m.HandleChoice(ctx, 42, 104) // d: 10
	require.NoError(t, err)
	require.NotNil(t, out.Result)

	assert.Equal(t, 1, asg.completeCalls)
	assert.Equal(t, int64(7), asg.completeID)
	assert.Equal(t, 15, asg.completeScore)
	assert.Equal(t, "High", asg.completeText)
}

func TestCompletionPersistenceFailureAbortsWithoutAdvancing(t *testing.T) {
	ctx := context.Background()
	m, asg := newTestManager(twoQuestionTest(false))
	asg.completeErr = errors.New("db down")

	st := &models.SentTest{ID: 7, SenderID: 99, TestID: 1, ReceiverUsername: "bob"}
	_, err := m.StartAssigned(ctx, 42, "bob", st)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 101)
	require.NoError(t, err)

	_, err = m.HandleChoice(ctx, 42, 103)
	require.Error(t, err)
	assert.True(t, m.InProgress(42))
	assert.Zero(t, asg.completeCalls)

	// Retry succeeds once the store recovers, with the same final answer.
	asg.completeErr = nil
	out, err := m.HandleChoice(ctx, 42, 103)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 2, out.Result.Score)
	assert.Equal(t, 1, asg.completeCalls)
}

func TestAbandonDropsSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(twoQuestionTest(false))

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	m.Abandon(42)
	assert.False(t, m.InProgress(42))
	_, err = m.HandleChoice(ctx, 42, 1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEmptyTestCompletesOnConfirm(t *testing.T) {
	ctx := context.Background()
	empty := &models.Test{
		ID:   1,
		Name: "Empty",
		Results: []models.ResultBand{
			{MinScore: 0, MaxScore: 5, Text: "Low"},
		},
	}
	m, _ := newTestManager(empty)

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)

	// No questions to ask: confirming ends the attempt at score zero.
	out, err := m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Zero(t, out.Result.Score)
	assert.Equal(t, "Low", out.Result.Interpretation)
	assert.False(t, m.InProgress(42))
}

func TestEmptyAssignedTestCompletesOnConfirm(t *testing.T) {
	ctx := context.Background()
	empty := &models.Test{
		ID:   1,
		Name: "Empty",
		Results: []models.ResultBand{
			{MinScore: 0, MaxScore: 5, Text: "Low"},
		},
	}
	m, asg := newTestManager(empty)

	st := &models.SentTest{ID: 7, TestID: 1}
	_, err := m.StartAssigned(ctx, 42, "bob", st)
	require.NoError(t, err)

	out, err := m.HandleChoice(ctx, 42, ChoiceConfirm)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 1, asg.startCalls)
	assert.Equal(t, 1, asg.completeCalls)
	assert.Equal(t, int64(7), asg.completeID)
	assert.Zero(t, asg.completeScore)
	assert.Equal(t, "Low", asg.completeText)
}

func TestEmptyUnscorableTestClearsSession(t *testing.T) {
	ctx := context.Background()
	empty := &models.Test{
		ID:   1,
		Name: "Empty",
		Results: []models.ResultBand{
			{MinScore: 1, MaxScore: 5, Text: "Low"},
		},
	}
	m, _ := newTestManager(empty)

	_, err := m.StartSelection(ctx, 42, "bob")
	require.NoError(t, err)
	_, err = m.HandleChoice(ctx, 42, 1)
	require.NoError(t, err)

	_, err = m.HandleChoice(ctx, 42, ChoiceConfirm)
	assert.ErrorIs(t, err, ErrUnscorableResult)
	assert.False(t, m.InProgress(42))
}
