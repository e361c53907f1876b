// Package scoring contains the pure score math for test attempts: summing the
// score values of an answer history and resolving a final score into a result
// band. Nothing here mutates test data or touches storage.
package scoring

import "github.com/example/psybot/pkg/models"

// CumulativeScore returns the sum of score values over an ordered answer
// history.
func CumulativeScore(history []models.AnswerOption) int {
	total := 0
	for _, opt := range history {
		total += opt.ScoreValue
	}
	return total
}

// ResolveResultBand returns the first band, in declaration order, whose
// inclusive [MinScore, MaxScore] range contains the score. Bands are allowed
// to overlap; first match wins. The second return value is false when no band
// contains the score.
func ResolveResultBand(bands []models.ResultBand, score int) (models.ResultBand, bool) {
	for _, band := range bands {
		if band.MinScore <= score && score <= band.MaxScore {
			return band, true
		}
	}
	return models.ResultBand{}, false
}
