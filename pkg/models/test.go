package models

// Test is a scored psychological test: an ordered list of questions plus the
// result bands used to interpret the final score. A test loaded for an attempt
// is a snapshot: the session never sees later catalog edits.
type Test struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	AllowBack   bool   `json:"allow_back" db:"allow_back"`
	IsActive    bool   `json:"is_active" db:"is_active"`

	Questions []Question   `json:"questions" db:"-"`
	Results   []ResultBand `json:"results" db:"-"`
}

// TestSummary is the listing form of a test, without its question graph.
type TestSummary struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// Question belongs to exactly one test and owns its answer options.
type Question struct {
	ID       int64  `json:"id" db:"id"`
	TestID   int64  `json:"test_id" db:"test_id"`
	Text     string `json:"text" db:"text"`
	Position int    `json:"position" db:"position"`

	Options []AnswerOption `json:"options" db:"-"`
}

// AnswerOption is one selectable answer for a question. ScoreValue may be zero.
type AnswerOption struct {
	ID         int64  `json:"id" db:"id"`
	QuestionID int64  `json:"question_id" db:"question_id"`
	Text       string `json:"text" db:"text"`
	ScoreValue int    `json:"score_value" db:"score_value"`
	Position   int    `json:"position" db:"position"`
}

// ResultBand maps an inclusive score range to interpretation text. Bands are
// matched in declaration order (Position) and may overlap; the first band
// containing the score wins.
type ResultBand struct {
	ID       int64  `json:"id" db:"id"`
	TestID   int64  `json:"test_id" db:"test_id"`
	Position int    `json:"position" db:"position"`
	MinScore int    `json:"min_score" db:"min_score"`
	MaxScore int    `json:"max_score" db:"max_score"`
	Text     string `json:"text" db:"text"`
}

// OptionByID returns the option with the given id, if the question has it.
func (q *Question) OptionByID(id int64) (AnswerOption, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return AnswerOption{}, false
}
