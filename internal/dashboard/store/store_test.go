package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/CZERTAINLY/port-lens/internal/dashboard/store"

	"github.com/stretchr/testify/require"
)

const specialFilename = ":memory:"

func TestInitDB(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), "/non/existing/path")
		require.Error(t, err)
		require.Nil(t, db)
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)
		require.NoError(t, db.Close())
	})

	t.Run("fail exec context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		db, err := store.InitDB(ctx, specialFilename)
		require.Error(t, err)
		require.Nil(t, db)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestStart(t *testing.T) {
	t.Run("single start", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)
	})
	t.Run("return values", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 3)
		require.NoError(t, err)
		err = store.Start(context.Background(), db, "uuid-2", "127.0.0.1", 1)
		require.NoError(t, err)
		// if scan already started, no error is returned
		err = store.Start(context.Background(), db, "uuid-1", "localhost", 3)
		require.NoError(t, err)
		err = store.Start(context.Background(), db, "uuid-2", "127.0.0.1", 1)
		require.NoError(t, err)
		// if it has already finished ...
		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.NoError(t, err)
		err = store.FinishErr(context.Background(), db, "uuid-2", "failure reason")
		require.NoError(t, err)
		// ...ErrAlreadyFinished is returned
		err = store.Start(context.Background(), db, "uuid-1", "localhost", 3)
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))
		err = store.Start(context.Background(), db, "uuid-2", "127.0.0.1", 1)
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))
	})
	t.Run("fail canceled context", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = store.Start(ctx, db, "uuid-1", "localhost", 3)
		require.Error(t, err)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestGet(t *testing.T) {
	t.Run("scan lifecycle", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		var sr store.ScanRow
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))
		require.Equal(t, store.ScanRow{}, sr)

		// start scan `uuid-1`
		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		require.Equal(t, sr.UUID, "uuid-1")
		require.Equal(t, sr.Host, "localhost")
		require.Equal(t, sr.Requested, 14)
		require.False(t, sr.StartedAt.IsZero())
		require.Equal(t, sr.InProgress, true)
		require.Nil(t, sr.Success)
		require.Nil(t, sr.OpenCount)
		require.Nil(t, sr.FailureReason)

		// conclude `uuid-1` as OK
		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.NoError(t, err)
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		require.Equal(t, sr.UUID, "uuid-1")
		require.Equal(t, sr.InProgress, false)
		require.Equal(t, *sr.Success, true)
		require.Equal(t, *sr.OpenCount, 2)
		require.Nil(t, sr.FailureReason)

		// delete scan "uuid-1"
		err = store.Delete(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))
		require.Equal(t, store.ScanRow{}, sr)

		// start scan `uuid-1` again
		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)
		// conclude `uuid-1` as Failure
		err = store.FinishErr(context.Background(), db, "uuid-1", "failure reason")
		require.NoError(t, err)
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		require.Equal(t, sr.UUID, "uuid-1")
		require.Equal(t, sr.InProgress, false)
		require.Equal(t, *sr.Success, false)
		require.Equal(t, *sr.FailureReason, "failure reason")
		require.Nil(t, sr.OpenCount)
	})
	t.Run("fail canceled context", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = store.Get(ctx, db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestList(t *testing.T) {
	t.Run("newest first", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		rows, err := store.List(context.Background(), db, 10)
		require.NoError(t, err)
		require.Empty(t, rows)

		for _, uuid := range []string{"uuid-1", "uuid-2", "uuid-3"} {
			err = store.Start(context.Background(), db, uuid, "localhost", 3)
			require.NoError(t, err)
		}
		err = store.FinishOK(context.Background(), db, "uuid-2", 1)
		require.NoError(t, err)

		rows, err = store.List(context.Background(), db, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, "uuid-3", rows[0].UUID)
		require.Equal(t, "uuid-2", rows[1].UUID)
		require.Equal(t, "uuid-1", rows[2].UUID)
		require.Equal(t, 1, *rows[1].OpenCount)
	})
	t.Run("limit applies", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		for _, uuid := range []string{"uuid-1", "uuid-2", "uuid-3"} {
			err = store.Start(context.Background(), db, uuid, "localhost", 3)
			require.NoError(t, err)
		}

		rows, err := store.List(context.Background(), db, 2)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "uuid-3", rows[0].UUID)
	})
}

func TestFinish(t *testing.T) {
	t.Run("FinishOK", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)

		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.NoError(t, err)
		var sr store.ScanRow
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		require.Equal(t, sr.UUID, "uuid-1")
		require.Equal(t, sr.InProgress, false)
		require.Equal(t, *sr.Success, true)
		require.Equal(t, *sr.OpenCount, 2)
		require.Nil(t, sr.FailureReason)

		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))

		err = store.FinishErr(context.Background(), db, "uuid-1", "failure reason")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))
	})

	t.Run("FinishErr", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		err = store.FinishErr(context.Background(), db, "uuid-1", "failure reason")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)

		err = store.FinishErr(context.Background(), db, "uuid-1", "failure reason")
		require.NoError(t, err)
		var sr store.ScanRow
		sr, err = store.Get(context.Background(), db, "uuid-1")
		require.NoError(t, err)
		require.Equal(t, sr.UUID, "uuid-1")
		require.Equal(t, sr.InProgress, false)
		require.Equal(t, *sr.Success, false)
		require.Equal(t, *sr.FailureReason, "failure reason")
		require.Nil(t, sr.OpenCount)

		err = store.FinishErr(context.Background(), db, "uuid-1", "failure reason")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))

		err = store.FinishOK(context.Background(), db, "uuid-1", 2)
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrAlreadyFinished))
	})
	t.Run("fail canceled context", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = store.FinishOK(ctx, db, "uuid-1", 2)
		require.Error(t, err)
		require.True(t, errors.Is(err, context.Canceled))

		err = store.FinishErr(ctx, db, "uuid-1", "failure reason")
		require.Error(t, err)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestDelete(t *testing.T) {
	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		err = store.Delete(context.Background(), db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)

		err = store.Delete(context.Background(), db, "uuid-1")
		require.NoError(t, err)

		err = store.Start(context.Background(), db, "uuid-1", "localhost", 14)
		require.NoError(t, err)

		err = store.FinishOK(context.Background(), db, "uuid-1", 0)
		require.NoError(t, err)

		err = store.Delete(context.Background(), db, "uuid-1")
		require.NoError(t, err)

		err = store.Delete(context.Background(), db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, store.ErrNotFound))
	})
	t.Run("fail canceled context", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(context.Background(), specialFilename)
		require.NoError(t, err)
		require.NotNil(t, db)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = store.Delete(ctx, db, "uuid-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestScanRowString(t *testing.T) {
	trueVal := true
	falseVal := false
	openCount := 2
	failureReason := "test-reason"

	tests := []struct {
		name     string
		row      store.ScanRow
		expected string
	}{
		{
			name: "in progress",
			row: store.ScanRow{
				Scan: store.Scan{
					UUID:       "test-uuid",
					Host:       "localhost",
					Requested:  14,
					InProgress: true,
				},
			},
			expected: `uuid: "test-uuid", host: "localhost", requested: 14, in_progress: true, success: nil, open_count: nil, failure_reason: nil`,
		},
		{
			name: "success with open count",
			row: store.ScanRow{
				Scan: store.Scan{
					UUID:       "test-uuid",
					Host:       "localhost",
					Requested:  14,
					InProgress: false,
					Success:    &trueVal,
					OpenCount:  &openCount,
				},
			},
			expected: `uuid: "test-uuid", host: "localhost", requested: 14, in_progress: false, success: true, open_count: 2, failure_reason: nil`,
		},
		{
			name: "failure with reason",
			row: store.ScanRow{
				Scan: store.Scan{
					UUID:          "test-uuid",
					Host:          "localhost",
					Requested:     14,
					InProgress:    false,
					Success:       &falseVal,
					FailureReason: &failureReason,
				},
			},
			expected: `uuid: "test-uuid", host: "localhost", requested: 14, in_progress: false, success: false, open_count: nil, failure_reason: "test-reason"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.row.String())
		})
	}
}
