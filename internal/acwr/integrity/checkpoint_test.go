package integrity_test

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fakeResult(userID int64, date time.Time, configurationID int64) results.Result {
	trimpACWR := gofakeit.Float64Range(0.5, 1.8)
	divergence := gofakeit.Float64Range(-0.3, 0.3)
	return results.Result{
		UserID:               userID,
		Date:                 date,
		ConfigurationID:      configurationID,
		ChronicPeriodDays:    42,
		DecayRate:            0.05,
		AcuteLoad:            gofakeit.Float64Range(10, 200),
		AcuteTRIMP:           gofakeit.Float64Range(10, 400),
		ChronicLoad:          gofakeit.Float64Range(10, 200),
		ChronicTRIMP:         gofakeit.Float64Range(10, 400),
		ACWR:                 gofakeit.Float64Range(0.5, 1.8),
		TrimpACWR:            &trimpACWR,
		NormalizedDivergence: &divergence,
		DataSufficiency:      1,
		CalculatedAt:         day0.Add(time.Hour),
	}
}

func TestBuildCheckpoints(t *testing.T) {
	keys := []results.Key{
		results.NewKey(2, day0, 1),
		results.NewKey(1, day0, 1),
		results.NewKey(1, day0.AddDate(0, 0, 1), 1),
	}
	existing := []results.Result{fakeResult(1, day0, 1)}

	checkpoints, err := integrity.BuildCheckpoints("m1", 3, 1, keys, existing, day0)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)

	first, second := checkpoints[0], checkpoints[1]
	assert.Equal(t, int64(1), first.UserID)
	assert.Len(t, first.RollbackData.Keys, 2)
	assert.Len(t, first.Snapshot, 1)
	assert.Equal(t, int64(2), second.UserID)
	assert.Empty(t, second.Snapshot, "user 2 had no rows before")
	assert.NotNil(t, second.Snapshot)

	for _, cp := range checkpoints {
		assert.Equal(t, "m1", cp.MigrationID)
		assert.Equal(t, 3, cp.BatchID)
		assert.NotEmpty(t, cp.ID)
		assert.Len(t, cp.Checksum, 64)
		assert.NoError(t, cp.Verify())
	}
	assert.NotEqual(t, first.Checksum, second.Checksum)
}

func TestCheckpoint_ChecksumIgnoresOrder(t *testing.T) {
	a := fakeResult(1, day0, 1)
	b := fakeResult(1, day0.AddDate(0, 0, 1), 1)

	cp := integrity.Checkpoint{
		MigrationID:  "m1",
		UserID:       1,
		BatchID:      1,
		Snapshot:     []results.Result{a, b},
		RollbackData: integrity.RollbackData{Keys: []results.Key{a.Key(), b.Key()}},
	}
	require.NoError(t, cp.Seal())

	reordered := cp
	reordered.Snapshot = []results.Result{b, a}
	reordered.RollbackData.Keys = []results.Key{b.Key(), a.Key()}
	sum, err := reordered.ComputeChecksum()
	require.NoError(t, err)
	assert.Equal(t, cp.Checksum, sum)

	// same instant in another zone
	local := cp
	local.Snapshot = []results.Result{a, b}
	local.Snapshot[0].CalculatedAt = a.CalculatedAt.In(time.FixedZone("CEST", 2*3600))
	assert.NoError(t, local.Verify())
}

func TestCheckpoint_VerifyDetectsTampering(t *testing.T) {
	row := fakeResult(1, day0, 1)
	checkpoints, err := integrity.BuildCheckpoints("m1", 1, 1, []results.Key{row.Key()}, []results.Result{row}, day0)
	require.NoError(t, err)
	cp := checkpoints[0]

	tampered := cp
	tampered.Snapshot = []results.Result{row}
	tampered.Snapshot[0].ACWR += 0.01
	assert.Error(t, tampered.Verify())

	dropped := cp
	dropped.RollbackData.Keys = nil
	assert.Error(t, dropped.Verify())

	moved := cp
	moved.BatchID = 2
	assert.Error(t, moved.Verify())
}

func TestCheckpointFilter_Match(t *testing.T) {
	batch := 2
	user := int64(7)
	cfg := int64(3)
	cp := &integrity.Checkpoint{MigrationID: "m1", UserID: 7, BatchID: 2, ConfigurationID: 3}
	backup := &integrity.Checkpoint{MigrationID: "m1", UserID: 7, BatchID: integrity.BackupBatchID, ConfigurationID: 3}

	assert.True(t, integrity.CheckpointFilter{MigrationID: "m1"}.Match(cp))
	assert.False(t, integrity.CheckpointFilter{MigrationID: "m2"}.Match(cp))
	assert.True(t, integrity.CheckpointFilter{BatchID: &batch, UserID: &user, ConfigurationID: &cfg}.Match(cp))
	other := int64(8)
	assert.False(t, integrity.CheckpointFilter{UserID: &other}.Match(cp))

	assert.False(t, integrity.CheckpointFilter{MigrationID: "m1"}.Match(backup))
	assert.True(t, integrity.CheckpointFilter{MigrationID: "m1", IncludeBackups: true}.Match(backup))
}
