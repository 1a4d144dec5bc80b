package dimension

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txetl/internal/model"
	"txetl/internal/storage"
	"txetl/internal/storage/storagetest"
)

func TestResolve_VariantsShareEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	first, err := Resolve(ctx, repo, repo.Dialect(), model.DimPaymentMethod, "Credit Card")
	require.NoError(t, err)

	for _, v := range []string{"credit card", "  CREDIT   CARD ", "Crédit Card"} {
		id, err := Resolve(ctx, repo, repo.Dialect(), model.DimPaymentMethod, v)
		require.NoError(t, err)
		assert.Equal(t, first, id, "variant %q", v)
	}
	assert.EqualValues(t, 1, storagetest.Count(t, repo, "dim_payment_method"))

	var name string
	require.NoError(t, repo.QueryRow(ctx, "SELECT canonical_name FROM dim_payment_method WHERE id = ?", first).Scan(&name))
	assert.Equal(t, "credit card", name)
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	a, err := Resolve(ctx, repo, repo.Dialect(), model.DimRegion, "North")
	require.NoError(t, err)
	b, err := Resolve(ctx, repo, repo.Dialect(), model.DimRegion, "North")
	require.NoError(t, err)
	c, err := Resolve(ctx, repo, repo.Dialect(), model.DimRegion, "South")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.EqualValues(t, 2, storagetest.Count(t, repo, "dim_region"))
}

func TestResolve_DimensionsAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	_, err := Resolve(ctx, repo, repo.Dialect(), model.DimTier, "gold")
	require.NoError(t, err)
	_, err = Resolve(ctx, repo, repo.Dialect(), model.DimEmployment, "gold")
	require.NoError(t, err)

	assert.EqualValues(t, 1, storagetest.Count(t, repo, "dim_tier"))
	assert.EqualValues(t, 1, storagetest.Count(t, repo, "dim_employment"))
}

func TestResolve_EmptyName(t *testing.T) {
	t.Parallel()
	repo := storagetest.NewSQLite(t)

	_, err := Resolve(context.Background(), repo, repo.Dialect(), model.DimTier, "   ")
	require.ErrorIs(t, err, ErrEmptyName)
	assert.Zero(t, storagetest.Count(t, repo, "dim_tier"))
}

func TestResolve_ConcurrentCallersGetOneEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	const workers = 16
	spellings := []string{"East", " EAST ", "east"}
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = storage.InTx(ctx, repo, func(tx storage.Tx) error {
				id, err := Resolve(ctx, tx, repo.Dialect(), model.DimRegion, spellings[i%len(spellings)])
				ids[i] = id
				return err
			})
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, ids[0], ids[i], "worker %d", i)
	}
	assert.EqualValues(t, 1, storagetest.Count(t, repo, "dim_region"))
}

func TestCache_MemoizesWithinUnitOfWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	err := storage.InTx(ctx, repo, func(tx storage.Tx) error {
		c := NewCache(tx, repo.Dialect())
		a, err := c.Resolve(ctx, model.DimTier, "Platinum")
		require.NoError(t, err)
		b, err := c.Resolve(ctx, model.DimTier, "platinum ")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, 1, c.Len())

		_, err = c.Resolve(ctx, model.DimTier, "")
		assert.ErrorIs(t, err, ErrEmptyName)
		return nil
	})
	require.NoError(t, err)
}

func TestCache_RollbackDiscardsEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storagetest.NewSQLite(t)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = NewCache(tx, repo.Dialect()).Resolve(ctx, model.DimRegion, "West")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	assert.Zero(t, storagetest.Count(t, repo, "dim_region"))
}
