package excel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/psybot/internal/database"
	"github.com/example/psybot/pkg/models"
)

// ImportResult holds the result of an import operation
type ImportResult struct {
	TestsCreated int
	Skipped      int
	Errors       []string
}

// ImportTests imports test definitions from an Excel workbook. Rows are
// tagged by their first cell:
//
//	test | <name> | <description> | <allow_back>
//	q    | <question text>
//	a    | <answer text> | <score>
//	r    | <min> | <max> | <interpretation>
//
// Questions, answers and result bands belong to the most recent "test" row.
// A test whose name already exists is skipped, so re-importing the same
// workbook is harmless.
func ImportTests(ctx context.Context, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %v", sheets[0], err)
	}

	repo := database.NewTestRepository()
	result := &ImportResult{Errors: make([]string, 0)}

	var current *models.Test
	flush := func() {
		if current == nil {
			return
		}
		if err := saveTest(ctx, repo, current, result); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.Skipped++
		}
		current = nil
	}

	for i, row := range rows {
		line := i + 1
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		tag := strings.ToLower(strings.TrimSpace(row[0]))
		switch tag {
		case "test":
			flush()
			if cellCount(row) < 2 {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: test row needs a name", line))
				continue
			}
			current = &models.Test{
				Name:        strings.TrimSpace(row[1]),
				Description: cell(row, 2),
				AllowBack:   parseBool(cell(row, 3)),
				IsActive:    true,
			}
		case "q":
			if current == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: question before any test row", line))
				continue
			}
			if cellCount(row) < 2 {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: question row needs text", line))
				continue
			}
			current.Questions = append(current.Questions, models.Question{Text: strings.TrimSpace(row[1])})
		case "a":
			if current == nil || len(current.Questions) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: answer before any question row", line))
				continue
			}
			if cellCount(row) < 3 {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: answer row needs text and score", line))
				continue
			}
			score, err := strconv.Atoi(strings.TrimSpace(row[2]))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: invalid score %q", line, row[2]))
				continue
			}
			q := &current.Questions[len(current.Questions)-1]
			q.Options = append(q.Options, models.AnswerOption{Text: strings.TrimSpace(row[1]), ScoreValue: score})
		case "r":
			if current == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: result band before any test row", line))
				continue
			}
			if cellCount(row) < 4 {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: result row needs min, max and text", line))
				continue
			}
			min, err1 := strconv.Atoi(strings.TrimSpace(row[1]))
			max, err2 := strconv.Atoi(strings.TrimSpace(row[2]))
			if err1 != nil || err2 != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: invalid score range %q..%q", line, row[1], row[2]))
				continue
			}
			current.Results = append(current.Results, models.ResultBand{MinScore: min, MaxScore: max, Text: strings.TrimSpace(row[3])})
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: unknown row tag %q", line, row[0]))
		}
	}
	flush()

	return result, nil
}

// ImportTestsFromFile imports test definitions from an Excel file on disk.
func ImportTestsFromFile(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	return ImportTests(ctx, f)
}

func saveTest(ctx context.Context, repo *database.TestRepository, test *models.Test, result *ImportResult) error {
	if len(test.Questions) == 0 {
		return fmt.Errorf("test %q has no questions", test.Name)
	}
	for _, q := range test.Questions {
		if len(q.Options) == 0 {
			return fmt.Errorf("test %q: question %q has no answers", test.Name, q.Text)
		}
	}
	if len(test.Results) == 0 {
		return fmt.Errorf("test %q has no result bands", test.Name)
	}

	exists, err := repo.ExistsByName(ctx, test.Name)
	if err != nil {
		return fmt.Errorf("test %q: %v", test.Name, err)
	}
	if exists {
		result.Skipped++
		return nil
	}

	if err := repo.CreateTest(ctx, test); err != nil {
		return fmt.Errorf("test %q: %v", test.Name, err)
	}
	result.TestsCreated++
	return nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func cellCount(row []string) int {
	n := 0
	for i, c := range row {
		if strings.TrimSpace(c) != "" {
			n = i + 1
		}
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
