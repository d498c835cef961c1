package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRun(t *testing.T) {
	db := setupTestDB(t)

	r := &Run{
		Step:      "preprocess",
		Input:     "data/raw",
		Output:    "data/processed/train_processed.csv",
		Rows:      307511,
		Cols:      263,
		StartedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
	require.NoError(t, SaveRun(db, r))
	assert.Positive(t, r.ID)
	assert.Equal(t, RunStatusOK, r.Status)

	list, err := ListRuns(db, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Output, got.Output)
	assert.Equal(t, 307511, got.Rows)
	assert.Equal(t, 263, got.Cols)
	assert.True(t, r.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, r.Duration, got.Duration)
}

func TestSaveRun_Invalid(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, SaveRun(db, nil))
	assert.Error(t, SaveRun(db, &Run{}))
	assert.ErrorIs(t, SaveRun(nil, &Run{Step: "x"}), ErrDBNotInitialized)
}

func TestListRuns_FilterAndOrder(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i, step := range []string{"preprocess", "quality", "quality", "medians"} {
		require.NoError(t, SaveRun(db, &Run{Step: step, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := ListRuns(db, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "medians", all[0].Step)
	assert.Equal(t, "preprocess", all[3].Step)

	q, err := ListRuns(db, "quality", 10)
	require.NoError(t, err)
	assert.Len(t, q, 2)

	limited, err := ListRuns(db, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = ListRuns(nil, "", 1)
	assert.ErrorIs(t, err, ErrDBNotInitialized)
}

func TestDeleteRuns(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, SaveRun(db, &Run{Step: "a"}))
	require.NoError(t, SaveRun(db, &Run{Step: "b"}))

	n, err := DeleteRuns(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := ListRuns(db, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = DeleteRuns(nil)
	assert.ErrorIs(t, err, ErrDBNotInitialized)
}
