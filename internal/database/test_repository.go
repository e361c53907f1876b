package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/psybot/internal/catalog"
	"github.com/example/psybot/pkg/models"
)

// TestRepository handles database operations for test definitions. It is the
// catalog.Catalog implementation: reads return snapshots of the full
// question/option/result-band graph.
type TestRepository struct{}

// NewTestRepository creates a new repository instance
func NewTestRepository() *TestRepository {
	return &TestRepository{}
}

// ListActiveTests returns summaries of all active tests.
func (r *TestRepository) ListActiveTests(ctx context.Context) ([]models.TestSummary, error) {
	var tests []models.TestSummary
	err := DB.SelectContext(ctx, &tests,
		"SELECT id, name, description FROM tests WHERE is_active = true ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active tests: %v", err)
	}
	return tests, nil
}

// GetTestSnapshot eagerly loads a test with its questions, answer options and
// result bands. The caller treats the returned value as immutable.
func (r *TestRepository) GetTestSnapshot(ctx context.Context, testID int64) (*models.Test, error) {
	var test models.Test
	err := DB.GetContext(ctx, &test,
		"SELECT id, name, description, allow_back, is_active FROM tests WHERE id = $1 AND is_active = true", testID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test %d: %v", testID, err)
	}

	err = DB.SelectContext(ctx, &test.Questions,
		"SELECT id, test_id, text, position FROM questions WHERE test_id = $1 ORDER BY position, id", testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for test %d: %v", testID, err)
	}

	for i := range test.Questions {
		q := &test.Questions[i]
		err = DB.SelectContext(ctx, &q.Options,
			"SELECT id, question_id, text, score_value, position FROM answer_options WHERE question_id = $1 ORDER BY position, id", q.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load options for question %d: %v", q.ID, err)
		}
	}

	err = DB.SelectContext(ctx, &test.Results,
		"SELECT id, test_id, position, min_score, max_score, text FROM result_bands WHERE test_id = $1 ORDER BY position, id", testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load result bands for test %d: %v", testID, err)
	}

	return &test, nil
}

// GetTestName resolves a test id to its name, for notification texts.
func (r *TestRepository) GetTestName(ctx context.Context, testID int64) (string, error) {
	var name string
	err := DB.GetContext(ctx, &name, "SELECT name FROM tests WHERE id = $1", testID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", catalog.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get name of test %d: %v", testID, err)
	}
	return name, nil
}

// ExistsByName reports whether a test with the given name already exists,
// active or not. Used by the importer to keep seeding idempotent.
func (r *TestRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int
	err := DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM tests WHERE name = $1", name)
	if err != nil {
		return false, fmt.Errorf("failed to check for test %q: %v", name, err)
	}
	return count > 0, nil
}

// CreateTest inserts a test with its whole graph in one transaction. Question
// and option positions follow slice order; band positions preserve
// declaration order so overlapping ranges resolve first-declared-first.
func (r *TestRepository) CreateTest(ctx context.Context, test *models.Test) error {
	tx, err := DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	test.ID, err = insertReturningID(ctx, tx,
		"INSERT INTO tests (name, description, allow_back, is_active) VALUES ($1, $2, $3, $4)",
		test.Name, test.Description, test.AllowBack, true)
	if err != nil {
		return fmt.Errorf("failed to insert test: %v", err)
	}

	for qi := range test.Questions {
		q := &test.Questions[qi]
		q.TestID = test.ID
		q.Position = qi
		q.ID, err = insertReturningID(ctx, tx,
			"INSERT INTO questions (test_id, text, position) VALUES ($1, $2, $3)",
			q.TestID, q.Text, q.Position)
		if err != nil {
			return fmt.Errorf("failed to insert question %d: %v", qi, err)
		}

		for oi := range q.Options {
			o := &q.Options[oi]
			o.QuestionID = q.ID
			o.Position = oi
			o.ID, err = insertReturningID(ctx, tx,
				"INSERT INTO answer_options (question_id, text, score_value, position) VALUES ($1, $2, $3, $4)",
				o.QuestionID, o.Text, o.ScoreValue, o.Position)
			if err != nil {
				return fmt.Errorf("failed to insert option %d of question %d: %v", oi, qi, err)
			}
		}
	}

	for bi := range test.Results {
		b := &test.Results[bi]
		b.TestID = test.ID
		b.Position = bi
		b.ID, err = insertReturningID(ctx, tx,
			"INSERT INTO result_bands (test_id, position, min_score, max_score, text) VALUES ($1, $2, $3, $4, $5)",
			b.TestID, b.Position, b.MinScore, b.MaxScore, b.Text)
		if err != nil {
			return fmt.Errorf("failed to insert result band %d: %v", bi, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test %q: %v", test.Name, err)
	}
	return nil
}
