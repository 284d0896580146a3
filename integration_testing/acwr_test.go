//go:build integration_test || all_tests

package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/loads"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/migration"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
)

type caller int

const (
	asOperator caller = iota
	asService
	anonymous
)

func (s *IntegrationTestSuite) call(ctx context.Context, who caller, method, path string, body, out any) int {
	t := s.T()
	var reqBody io.Reader
	if body != nil {
		reqJson, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(reqJson)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch who {
	case asOperator:
		req.Header.Set(middleware.HeaderOperatorToken, testOperatorToken)
		req.Header.Set(middleware.HeaderOperatorName, "integration")
	case asService:
		req.Header.Set(middleware.HeaderIngestSecret, testIngestSecret)
	}

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(respBytes, out), string(respBytes))
	}
	return resp.StatusCode
}

func (s *IntegrationTestSuite) seedConstant(ctx context.Context, userID int64, days int) {
	today := loads.Today(time.Now())
	samples := make([]calc.LoadSample, 0, days)
	for i := days - 1; i >= 0; i-- {
		samples = append(samples, calc.LoadSample{
			UserID:       userID,
			Date:         today.AddDate(0, 0, -i),
			ExternalLoad: 12,
			InternalLoad: 30,
		})
	}
	var resp loads.AddSamplesResponse
	status := s.call(ctx, asService, "POST", "/acwr/loads", loads.AddSamplesRequest{Samples: samples}, &resp)
	s.Require().Equal(http.StatusCreated, status)
	s.Require().Equal(days, resp.Inserted)
}

func (s *IntegrationTestSuite) TestAuth() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Equal(http.StatusOK, s.call(ctx, anonymous, "GET", "/health", nil, nil))
	s.Equal(http.StatusUnauthorized, s.call(ctx, anonymous, "GET", "/acwr/configurations", nil, nil))
	s.Equal(http.StatusUnauthorized, s.call(ctx, asService, "GET", "/acwr/migrations", nil, nil))

	var list configs.ListResponse
	s.Require().Equal(http.StatusOK, s.call(ctx, asOperator, "GET", "/acwr/configurations", nil, &list))
	var defaults int
	for _, c := range list.Configurations {
		if c.IsDefault {
			defaults++
		}
	}
	s.Equal(1, defaults)
}

func (s *IntegrationTestSuite) TestIngestAndMetrics() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	const userID = 1001
	s.seedConstant(ctx, userID, 50)

	// re-ingesting the same days inserts nothing
	today := loads.Today(time.Now())
	var again loads.AddSamplesResponse
	status := s.call(ctx, asService, "POST", "/acwr/loads", loads.AddSamplesRequest{Samples: []calc.LoadSample{
		{UserID: userID, Date: today, ExternalLoad: 99, InternalLoad: 99},
	}}, &again)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 0, again.Inserted)

	var calculated results.CalculateResponse
	path := fmt.Sprintf("/acwr/users/%d/calculate?date=%s", userID, today.Format(time.DateOnly))
	require.Equal(t, http.StatusOK, s.call(ctx, asService, "GET", path, nil, &calculated))
	require.Equal(t, results.StateOK, calculated.State)

	var dm results.DashboardMetrics
	require.Equal(t, http.StatusOK, s.call(ctx, asService, "GET", fmt.Sprintf("/acwr/users/%d/metrics", userID), nil, &dm))
	assert.Equal(t, results.StateOK, dm.State)
	require.NotNil(t, dm.ACWR)
	require.NotNil(t, dm.TrimpACWR)
	assert.InDelta(t, 1.0, *dm.ACWR, 1e-9)
	assert.InDelta(t, 1.0, *dm.TrimpACWR, 1e-9)
	assert.InDelta(t, 1.0, dm.DataSufficiency, 1e-9)

	// served from redis the second time, same answer
	var cached results.DashboardMetrics
	require.Equal(t, http.StatusOK, s.call(ctx, asService, "GET", fmt.Sprintf("/acwr/users/%d/metrics", userID), nil, &cached))
	assert.Equal(t, *dm.ACWR, *cached.ACWR)

	var preview results.Preview
	path = fmt.Sprintf("/acwr/configurations/%d/preview?user_id=%d&from=%s&to=%s",
		dm.ConfigurationID, userID,
		today.AddDate(0, 0, -6).Format(time.DateOnly), today.Format(time.DateOnly))
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", path, nil, &preview))
	assert.Len(t, preview.Points, 7)
}

func (s *IntegrationTestSuite) TestConfigurationLifecycle() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	const userID = 1002

	var created configs.Configuration
	status := s.call(ctx, asOperator, "POST", "/acwr/configurations", configs.NewConfiguration{
		Name:              "lifecycle-35d",
		ChronicPeriodDays: 35,
		DecayRate:         0.07,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "integration", created.CreatedBy)

	// duplicate name
	assert.Equal(t, http.StatusBadRequest, s.call(ctx, asOperator, "POST", "/acwr/configurations", configs.NewConfiguration{
		Name:              "lifecycle-35d",
		ChronicPeriodDays: 40,
		DecayRate:         0.05,
	}, nil))
	// out of range decay
	assert.Equal(t, http.StatusBadRequest, s.call(ctx, asOperator, "POST", "/acwr/configurations", configs.NewConfiguration{
		Name:              "lifecycle-bad",
		ChronicPeriodDays: 42,
		DecayRate:         2,
	}, nil))

	path := fmt.Sprintf("/acwr/users/%d/configuration", userID)
	require.Equal(t, http.StatusCreated, s.call(ctx, asOperator, "POST", path, configs.AssignRequest{ConfigurationID: created.ID, Reason: "first"}, nil))

	var active configs.Configuration
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", path, nil, &active))
	assert.Equal(t, created.ID, active.ID)

	// in use
	assert.Equal(t, http.StatusConflict, s.call(ctx, asOperator, "DELETE", fmt.Sprintf("/acwr/configurations/%d", created.ID), nil, nil))

	var list configs.ListResponse
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", "/acwr/configurations", nil, &list))
	var defaultID int64
	for _, c := range list.Configurations {
		if c.IsDefault {
			defaultID = c.ID
		}
	}
	require.NotZero(t, defaultID)
	require.Equal(t, http.StatusCreated, s.call(ctx, asOperator, "POST", path, configs.AssignRequest{ConfigurationID: defaultID, Reason: "back"}, nil))

	var history configs.HistoryResponse
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", path+"/history", nil, &history))
	require.Len(t, history.Assignments, 2)
	activeCount := 0
	for _, a := range history.Assignments {
		if a.IsActive {
			activeCount++
			assert.Equal(t, defaultID, a.ConfigurationID)
		}
	}
	assert.Equal(t, 1, activeCount)

	assert.Equal(t, http.StatusNoContent, s.call(ctx, asOperator, "DELETE", fmt.Sprintf("/acwr/configurations/%d", created.ID), nil, nil))
}

func (s *IntegrationTestSuite) TestMigrationAndRollback() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	const userID = 1003
	s.seedConstant(ctx, userID, 70)

	var target configs.Configuration
	require.Equal(t, http.StatusCreated, s.call(ctx, asOperator, "POST", "/acwr/configurations", configs.NewConfiguration{
		Name:              "migration-56d",
		ChronicPeriodDays: 56,
		DecayRate:         0.03,
	}, &target))

	today := loads.Today(time.Now())
	from := today.AddDate(0, 0, -19)
	var started migration.Migration
	status := s.call(ctx, asOperator, "POST", "/acwr/migrations", migration.StartRequestBody{
		UserID:          userID,
		ConfigurationID: target.ID,
		From:            from.Format(time.DateOnly),
		To:              today.Format(time.DateOnly),
		BatchSize:       7,
		ValidationLevel: integrity.LevelParanoid,
	}, &started)
	require.Equal(t, http.StatusAccepted, status)

	// the user is locked while it runs, or it already finished
	var done migration.Migration
	require.Eventually(t, func() bool {
		if s.call(ctx, asOperator, "GET", "/acwr/migrations/"+started.ID, nil, &done) != http.StatusOK {
			return false
		}
		return done.Status.Terminal()
	}, 30*time.Second, 100*time.Millisecond)
	require.Equal(t, migration.StatusCompleted, done.Status, done.Error)
	assert.Equal(t, 20, done.SuccessfulCalculations)
	assert.Equal(t, 3, done.TotalBatches)
	require.Len(t, done.BatchResults, 3)
	for _, br := range done.BatchResults {
		require.NotNil(t, br.Validation)
		assert.Equal(t, integrity.StatusPass, br.Validation.Status)
	}

	var summaries []integrity.CheckpointSummary
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", "/acwr/migrations/"+started.ID+"/checkpoints", nil, &summaries))
	require.Len(t, summaries, 3)

	// rows are read under the active configuration
	resultsPath := fmt.Sprintf("/acwr/users/%d/results?from=%s&to=%s", userID, from.Format(time.DateOnly), today.Format(time.DateOnly))
	require.Equal(t, http.StatusCreated, s.call(ctx, asOperator, "POST",
		fmt.Sprintf("/acwr/users/%d/configuration", userID),
		configs.AssignRequest{ConfigurationID: target.ID, Reason: "migrated"}, nil))
	var history results.HistoryResponse
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", resultsPath, nil, &history))
	require.Len(t, history.Results, 20)
	for _, r := range history.Results {
		assert.Equal(t, 56, r.ChronicPeriodDays)
		assert.InDelta(t, 1.0, r.ACWR, 1e-9)
	}

	var rb integrity.RollbackResponse
	status = s.call(ctx, asOperator, "POST", "/acwr/migrations/"+started.ID+"/rollback", integrity.RollbackRequestBody{
		Scope:  integrity.ScopeSingleBatch,
		Target: 3,
		Reason: "last batch looks off",
	}, &rb)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, rb.Rollback)
	assert.Equal(t, integrity.RollbackCompleted, rb.Rollback.Status)
	assert.Equal(t, 6, rb.Rollback.AffectedRecords)

	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", resultsPath, nil, &history))
	assert.Len(t, history.Results, 14)

	var audit integrity.AuditResponse
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", "/acwr/rollbacks/"+rb.Rollback.ID+"/audit", nil, &audit))
	require.NotEmpty(t, audit.Entries)
	assert.Equal(t, integrity.RollbackCompleted, audit.Entries[len(audit.Entries)-1].Status)

	var rollbacks []integrity.RollbackRecord
	require.Equal(t, http.StatusOK, s.call(ctx, asOperator, "GET", "/acwr/migrations/"+started.ID+"/rollbacks", nil, &rollbacks))
	assert.Len(t, rollbacks, 1)
}
