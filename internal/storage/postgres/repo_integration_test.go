//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"txetl/internal/customer"
	"txetl/internal/model"
	"txetl/internal/storage"
	"txetl/internal/storage/postgres"
	"txetl/internal/testutil/containers"
)

type PostgresSuite struct {
	suite.Suite
	repo    *postgres.Repository
	closeFn func()
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	pg := containers.NewPostgresContainer(s.T())

	repo, closeFn, err := postgres.NewRepository(context.Background(), postgres.Config{DSN: pg.DSN})
	s.Require().NoError(err)
	s.repo, s.closeFn = repo, closeFn

	applied, err := storage.Migrate(context.Background(), repo)
	s.Require().NoError(err)
	s.Require().Equal([]int{1, 2, 3}, applied)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func (s *PostgresSuite) TestInsertIfAbsentInsideTx() {
	ctx := context.Background()
	cols := []string{"canonical_name"}

	err := storage.InTx(ctx, s.repo, func(tx storage.Tx) error {
		ok, err := storage.InsertIfAbsent(ctx, tx, storage.Postgres, "dim_region", cols, "north")
		s.Require().NoError(err)
		s.True(ok)

		// A conflicting insert must not abort the transaction.
		ok, err = storage.InsertIfAbsent(ctx, tx, storage.Postgres, "dim_region", cols, "north")
		s.Require().NoError(err)
		s.False(ok)

		var id int64
		return tx.QueryRow(ctx, "SELECT id FROM dim_region WHERE canonical_name = ?", "north").Scan(&id)
	})
	s.Require().NoError(err)
}

func (s *PostgresSuite) TestCheckConstraintClassified() {
	_, err := s.repo.Exec(context.Background(),
		"INSERT INTO customer_profile (gender, age, marital_status) VALUES (?, ?, ?)",
		"male", 0, "single")
	s.Require().Error(err)
	s.ErrorIs(err, storage.ErrConstraint)
}

func (s *PostgresSuite) TestNoRows() {
	var id int64
	err := s.repo.QueryRow(context.Background(),
		"SELECT id FROM dim_tier WHERE canonical_name = ?", "absent").Scan(&id)
	s.ErrorIs(err, storage.ErrNoRows)
}

func (s *PostgresSuite) TestConcurrentCustomerResolveCreatesOneProfile() {
	ctx := context.Background()
	k := model.ProfileKey{Gender: model.GenderUnknown, Age: 77, Marital: model.MaritalSingle}

	const workers = 12
	ids := make([]int64, workers)
	errs := make([]error, workers)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = storage.InTx(ctx, s.repo, func(tx storage.Tx) error {
				id, err := customer.Resolve(ctx, tx, storage.Postgres, k)
				ids[i] = id
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range errs {
		s.Require().NoError(errs[i], "worker %d", i)
		s.Equal(ids[0], ids[i], "worker %d", i)
	}
	var n int64
	s.Require().NoError(s.repo.QueryRow(ctx,
		"SELECT COUNT(*) FROM customer_profile WHERE gender = ? AND age = ? AND marital_status = ?",
		"unknown", 77, "single").Scan(&n))
	s.EqualValues(1, n)
}
