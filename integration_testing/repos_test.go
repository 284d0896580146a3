//go:build integration_test || all_tests

package integration_testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/loads"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/migration"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

var repoDay0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func (s *IntegrationTestSuite) newConfiguration(ctx context.Context, name string) *configs.Configuration {
	c, err := configs.NewRepo(s.pool).Create(ctx, configs.NewConfiguration{
		Name:              name,
		ChronicPeriodDays: 42,
		DecayRate:         0.05,
		CreatedBy:         "repo-test",
	})
	s.Require().NoError(err)
	return c
}

func (s *IntegrationTestSuite) TestLoadsRepo() {
	ctx := context.Background()
	t := s.T()
	repo := loads.NewRepo(s.pool)

	const userID = 2001
	inserted, err := repo.Add(ctx, []calc.LoadSample{
		{UserID: userID, Date: repoDay0.AddDate(0, 0, 2), ExternalLoad: 3, InternalLoad: 6},
		{UserID: userID, Date: repoDay0, ExternalLoad: 1, InternalLoad: 2},
		{UserID: userID, Date: repoDay0.AddDate(0, 0, 1), ExternalLoad: 2, InternalLoad: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// the first recorded value wins
	inserted, err = repo.Add(ctx, []calc.LoadSample{{UserID: userID, Date: repoDay0, ExternalLoad: 100, InternalLoad: 100}})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	samples, err := repo.Samples(ctx, userID, repoDay0, repoDay0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Date.Equal(repoDay0))
	assert.Equal(t, 1.0, samples[0].ExternalLoad)

	first, err := repo.FirstDate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, first.Equal(repoDay0))

	_, err = repo.FirstDate(ctx, 2999)
	assert.ErrorIs(t, err, acwrerr.ErrNotFound)
}

func (s *IntegrationTestSuite) TestConfigsRepo_ConcurrentAssign() {
	ctx := context.Background()
	t := s.T()
	repo := configs.NewRepo(s.pool)

	a := s.newConfiguration(ctx, "repo-assign-a")
	b := s.newConfiguration(ctx, "repo-assign-b")

	const userID = 2002
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfgID := a.ID
			if i%2 == 1 {
				cfgID = b.ID
			}
			_, err := repo.Assign(ctx, configs.Assignment{
				UserID:          userID,
				ConfigurationID: cfgID,
				AssignedBy:      "repo-test",
				Reason:          fmt.Sprintf("round %d", i),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := repo.AssignmentHistory(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	active := 0
	for _, h := range history {
		if h.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	current, err := repo.ActiveAssignment(ctx, userID)
	require.NoError(t, err)
	users, err := repo.UsersOnConfiguration(ctx, current.ConfigurationID)
	require.NoError(t, err)
	assert.Contains(t, users, int64(userID))
}

func (s *IntegrationTestSuite) TestResultsRepo_RestoreAndCheckpoints() {
	ctx := context.Background()
	t := s.T()
	cfg := s.newConfiguration(ctx, "repo-results")
	resultsRepo := results.NewRepo(s.pool)
	integrityRepo := integrity.NewRepo(s.pool)

	const userID = 2003
	row := func(day int, acwr float64) results.Result {
		return results.Result{
			UserID:            userID,
			Date:              repoDay0.AddDate(0, 0, day),
			ConfigurationID:   cfg.ID,
			ChronicPeriodDays: cfg.ChronicPeriodDays,
			DecayRate:         cfg.DecayRate,
			AcuteLoad:         10,
			ChronicLoad:       10 / acwr,
			ACWR:              acwr,
			DataSufficiency:   1,
			CalculatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	original := []results.Result{row(0, 1.1), row(1, 1.2)}
	_, err := resultsRepo.Upsert(ctx, original)
	require.NoError(t, err)

	keys := []results.Key{original[0].Key(), original[1].Key(), row(2, 1).Key()}
	existing, err := resultsRepo.Get(ctx, keys)
	require.NoError(t, err)
	require.Len(t, existing, 2)

	cps, err := integrity.BuildCheckpoints("repo-mig", 1, cfg.ID, keys, existing, time.Now())
	require.NoError(t, err)
	require.NoError(t, integrityRepo.CreateCheckpoints(ctx, cps))

	// the checksum survives the jsonb round trip
	batchID := 1
	loaded, err := integrityRepo.Checkpoints(ctx, integrity.CheckpointFilter{MigrationID: "repo-mig", BatchID: &batchID})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NoError(t, loaded[0].Verify())

	_, err = resultsRepo.Upsert(ctx, []results.Result{row(0, 1.5), row(1, 1.6), row(2, 1.7)})
	require.NoError(t, err)

	affected, err := resultsRepo.Restore(ctx, loaded[0].RollbackData.Keys, loaded[0].Snapshot)
	require.NoError(t, err)
	assert.Equal(t, 5, affected)

	after, err := resultsRepo.Range(ctx, userID, cfg.ID, repoDay0, repoDay0.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, 1.1, after[0].ACWR)
	assert.Equal(t, 1.2, after[1].ACWR)

	latest, err := resultsRepo.Latest(ctx, userID, cfg.ID)
	require.NoError(t, err)
	assert.True(t, latest.Date.Equal(repoDay0.AddDate(0, 0, 1)))

	purged, err := integrityRepo.PurgeCheckpoints(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, 1)
}

func (s *IntegrationTestSuite) TestMigrationRepo() {
	ctx := context.Background()
	t := s.T()
	cfg := s.newConfiguration(ctx, "repo-migration")
	repo := migration.NewRepo(s.pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	m := &migration.Migration{
		ID:              "repo-migration-1",
		UserID:          2004,
		ConfigurationID: cfg.ID,
		From:            repoDay0,
		To:              repoDay0.AddDate(0, 0, 30),
		BatchSize:       100,
		ValidationLevel: integrity.LevelStandard,
		Status:          migration.StatusPending,
		StartedBy:       "repo-test",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.CreateMigration(ctx, m))

	m.Status = migration.StatusPaused
	m.CurrentBatch = 2
	m.Cursor = &migration.Cursor{UserID: 2004, Date: repoDay0.AddDate(0, 0, 9)}
	m.BatchResults = []migration.BatchResult{{BatchID: 1, Items: 5, Successful: 5}, {BatchID: 2, Items: 5, Successful: 4, Skipped: 1}}
	require.NoError(t, repo.UpdateMigration(ctx, m))

	got, err := repo.GetMigration(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, migration.StatusPaused, got.Status)
	require.NotNil(t, got.Cursor)
	assert.True(t, got.Cursor.Date.Equal(m.Cursor.Date))
	assert.Len(t, got.BatchResults, 2)

	paused, err := repo.ListMigrations(ctx, migration.StatusPaused)
	require.NoError(t, err)
	var ids []string
	for _, p := range paused {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, m.ID)

	_, err = repo.GetMigration(ctx, "missing")
	assert.ErrorIs(t, err, acwrerr.ErrNotFound)
}
