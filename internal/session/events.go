package session

// Event is an inbound command for a test-taking session. The transport layer
// parses whatever it receives (callback data, text) into one of these
// variants at the edge; the state machine itself never inspects raw strings.
type Event interface {
	isEvent()
}

// ChooseTest selects a test while the session is in StateSelectingTest.
type ChooseTest struct {
	TestID int64
}

// Confirm starts the chosen test from StateConfirmingTest.
type Confirm struct{}

// Cancel returns from StateConfirmingTest to test selection.
type Cancel struct{}

// SelectAnswer answers the current question with one of its options.
type SelectAnswer struct {
	OptionID int64
}

// GoBack reverts to the previous question, undoing its score contribution.
// A no-op when the test forbids it or no question has been answered yet.
type GoBack struct{}

func (ChooseTest) isEvent()   {}
func (Confirm) isEvent()      {}
func (Cancel) isEvent()       {}
func (SelectAnswer) isEvent() {}
func (GoBack) isEvent()       {}
