package repository

import (
	"context"
	"testing"
	"time"

	"misp-controlplane/pkg/db/option"
	"misp-controlplane/pkg/db/pagination"
	"misp-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID        string `gorm:"column:widget_id;primaryKey"`
	Owner     string
	Status    string
	Weight    int
	CreatedAt time.Time
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)

	require.NoError(t, repo.BatchCreate(ctx, []*widget{
		{ID: "w1", Owner: "acme", Status: "active", Weight: 1},
		{ID: "w2", Owner: "acme", Status: "inactive", Weight: 5},
		{ID: "w3", Owner: "globex", Status: "active", Weight: 9},
	}))

	got, err := repo.FindOne(ctx, &widget{ID: "w2"})
	require.NoError(t, err)
	require.Equal(t, "inactive", got.Status)

	missing, err := repo.FindOne(ctx, &widget{ID: "nope"})
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.Update(ctx, "w2", map[string]any{"status": "active"}))
	got, err = repo.FindOne(ctx, &widget{ID: "w2"})
	require.NoError(t, err)
	require.Equal(t, "active", got.Status)

	n, err := repo.Count(ctx, &widget{Owner: "acme"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	ok, err := repo.Exists(ctx, &widget{Owner: "initech"})
	require.NoError(t, err)
	require.False(t, ok)

	heavy, err := repo.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "weight", Operator: option.GT, Value: 2}),
		option.WithSortBy(option.QuerySortBy{SortBy: "weight", OrderBy: "asc", Allow: map[string]bool{"weight": true}}),
	)
	require.NoError(t, err)
	require.Len(t, heavy, 2)
	require.Equal(t, "w2", heavy[0].ID)
	require.Equal(t, "w3", heavy[1].ID)

	page, err := repo.Find(ctx, nil, option.ApplyPagination(pagination.Pagination{Limit: 1}))
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestWithTrxRollback(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTrx(tx).Create(ctx, &widget{ID: "w1", Owner: "acme"}); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	got, err := repo.FindOne(ctx, &widget{ID: "w1"})
	require.NoError(t, err)
	require.Nil(t, got)
}
