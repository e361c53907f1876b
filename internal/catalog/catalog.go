// Package catalog defines read-only access to test definitions. The session
// machine works on snapshots: GetTestSnapshot loads the full
// question/option/result-band graph once, at selection time, and the returned
// value is treated as immutable for the rest of the attempt, so a concurrent
// catalog edit never perturbs a session already in progress.
package catalog

import (
	"context"
	"errors"

	"github.com/example/psybot/pkg/models"
)

// ErrNotFound is returned when the requested test does not exist or is
// inactive.
var ErrNotFound = errors.New("test not found")

// Catalog is the read side of the test store.
type Catalog interface {
	ListActiveTests(ctx context.Context) ([]models.TestSummary, error)
	GetTestSnapshot(ctx context.Context, testID int64) (*models.Test, error)
}
