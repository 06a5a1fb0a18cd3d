package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prunerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f prunerFunc) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

func TestPruneJournal(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	t.Run("cutoff is now minus retention", func(t *testing.T) {
		var cutoff time.Time

		err := PruneJournal(context.Background(), prunerFunc(func(_ context.Context, before time.Time) (int64, error) {
			cutoff = before

			return 3, nil
		}), 168*time.Hour, now)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), cutoff)
	})

	t.Run("errors are returned", func(t *testing.T) {
		err := PruneJournal(context.Background(), prunerFunc(func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("database is locked")
		}), time.Hour, now)

		require.Error(t, err)
	})
}

func TestStart_PrunesOnEveryTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan time.Time, 10)

	Start(ctx, prunerFunc(func(_ context.Context, before time.Time) (int64, error) {
		calls <- before

		return 0, nil
	}), 5*time.Millisecond, time.Hour)

	for range 2 {
		select {
		case before := <-calls:
			assert.WithinDuration(t, time.Now().Add(-time.Hour), before, time.Minute)
		case <-time.After(time.Second):
			t.Fatal("journal was not pruned")
		}
	}
}
