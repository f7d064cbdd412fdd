package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"incentive-pipeline/pkg/db/option"
	"incentive-pipeline/services/testutil"
)

type widget struct {
	ID        string `gorm:"column:id;primaryKey"`
	Owner     string `gorm:"column:owner;index"`
	Size      int    `gorm:"column:size"`
	CreatedAt time.Time
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStoreWithBatch[widget](db, 2)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := repo.BatchCreate(ctx, []*widget{
		{ID: "a", Owner: "x", Size: 1, CreatedAt: base},
		{ID: "b", Owner: "x", Size: 5, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Owner: "y", Size: 9, CreatedAt: base.Add(2 * time.Minute)},
	})
	require.NoError(t, err)

	found, err := repo.Find(ctx, &widget{Owner: "x"}, option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "b", found[0].ID)

	big, err := repo.Find(ctx, &widget{}, option.ApplyOperator(option.Condition{Field: "size", Operator: option.GT, Value: 4}))
	require.NoError(t, err)
	require.Len(t, big, 2)

	missing, err := repo.FindOne(ctx, &widget{ID: "zzz"})
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.Update(ctx, "a", map[string]any{"size": 42}))
	a, err := repo.FindOne(ctx, &widget{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, 42, a.Size)

	n, err := repo.Count(ctx, &widget{Owner: "y"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSortByIgnoresColumnsOutsideAllowList(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)
	require.NoError(t, repo.Create(ctx, &widget{ID: "a"}))

	_, err := repo.Find(ctx, &widget{}, option.WithSortBy(option.QuerySortBy{
		SortBy: "size; drop table widgets",
		Allow:  map[string]bool{"created_at": true},
	}))
	require.NoError(t, err)
}
