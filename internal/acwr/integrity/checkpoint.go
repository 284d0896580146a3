package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

// BackupBatchID marks the checkpoints a rollback takes before it restores.
const BackupBatchID = -1

// RollbackData lists the keys a batch was about to write. Keys without a
// snapshot row did not exist before and are deleted on rollback.
type RollbackData struct {
	Keys []results.Key `json:"keys"`
}

// Checkpoint is the pre-change state of one user's rows in one batch.
type Checkpoint struct {
	ID              string            `json:"checkpointId"`
	MigrationID     string            `json:"migrationId"`
	UserID          int64             `json:"userId"`
	BatchID         int               `json:"batchId"`
	ConfigurationID int64             `json:"configurationId"`
	CreatedAt       time.Time         `json:"timestamp"`
	Validation      *ValidationResult `json:"validationResult,omitempty"`
	Snapshot        []results.Result  `json:"dataSnapshot"`
	RollbackData    RollbackData      `json:"rollbackData"`
	Checksum        string            `json:"checksum"`
}

type canonicalCheckpoint struct {
	MigrationID     string           `json:"migration_id"`
	UserID          int64            `json:"user_id"`
	BatchID         int              `json:"batch_id"`
	ConfigurationID int64            `json:"configuration_id"`
	Snapshot        []results.Result `json:"snapshot"`
	Keys            []results.Key    `json:"keys"`
}

// ComputeChecksum hashes the canonical JSON form of the snapshot and keys.
// Row order does not matter.
func (c *Checkpoint) ComputeChecksum() (string, error) {
	snapshot := append([]results.Result(nil), c.Snapshot...)
	sort.Slice(snapshot, func(i, j int) bool {
		return keyLess(snapshot[i].Key(), snapshot[j].Key())
	})
	for i := range snapshot {
		snapshot[i].Date = snapshot[i].Date.UTC()
		snapshot[i].CalculatedAt = snapshot[i].CalculatedAt.UTC()
	}
	keys := append([]results.Key(nil), c.RollbackData.Keys...)
	for i := range keys {
		keys[i] = results.NewKey(keys[i].UserID, keys[i].Date, keys[i].ConfigurationID)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	data, err := json.Marshal(canonicalCheckpoint{
		MigrationID:     c.MigrationID,
		UserID:          c.UserID,
		BatchID:         c.BatchID,
		ConfigurationID: c.ConfigurationID,
		Snapshot:        snapshot,
		Keys:            keys,
	})
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Checkpoint) Seal() error {
	sum, err := c.ComputeChecksum()
	if err != nil {
		return err
	}
	c.Checksum = sum
	return nil
}

// Verify fails when the stored checksum does not match the content.
func (c *Checkpoint) Verify() error {
	sum, err := c.ComputeChecksum()
	if err != nil {
		return err
	}
	if sum != c.Checksum {
		return fmt.Errorf("checkpoint %s: checksum mismatch", c.ID)
	}
	return nil
}

type CheckpointFilter struct {
	MigrationID     string
	BatchID         *int
	UserID          *int64
	ConfigurationID *int64
	// IncludeBackups also returns rollback backup checkpoints.
	IncludeBackups  bool
}

func (f CheckpointFilter) Match(c *Checkpoint) bool {
	switch {
	case f.MigrationID != "" && c.MigrationID != f.MigrationID:
		return false
	case f.BatchID != nil && c.BatchID != *f.BatchID:
		return false
	case f.UserID != nil && c.UserID != *f.UserID:
		return false
	case f.ConfigurationID != nil && c.ConfigurationID != *f.ConfigurationID:
		return false
	case !f.IncludeBackups && c.BatchID == BackupBatchID:
		return false
	}
	return true
}

type CheckpointStore interface {
	CreateCheckpoints(ctx context.Context, checkpoints []Checkpoint) error
	// SetCheckpointValidation attaches the batch validation result to every
	// checkpoint of the batch.
	SetCheckpointValidation(ctx context.Context, migrationID string, batchID int, v ValidationResult) error
	// Checkpoints returns matching checkpoints ordered by batch then user.
	Checkpoints(ctx context.Context, filter CheckpointFilter) ([]Checkpoint, error)
	PurgeCheckpoints(ctx context.Context, before time.Time) (int, error)
}

// BuildCheckpoints groups keys per user and pairs them with the rows that
// currently exist for them.
func BuildCheckpoints(migrationID string, batchID int, configurationID int64, keys []results.Key, existing []results.Result, now time.Time) ([]Checkpoint, error) {
	existingByUser := map[int64][]results.Result{}
	for _, r := range existing {
		existingByUser[r.UserID] = append(existingByUser[r.UserID], r)
	}

	keysByUser := map[int64][]results.Key{}
	var users []int64
	for _, k := range keys {
		if _, ok := keysByUser[k.UserID]; !ok {
			users = append(users, k.UserID)
		}
		keysByUser[k.UserID] = append(keysByUser[k.UserID], k)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	checkpoints := make([]Checkpoint, 0, len(users))
	for _, userID := range users {
		cp := Checkpoint{
			ID:              uuid.NewString(),
			MigrationID:     migrationID,
			UserID:          userID,
			BatchID:         batchID,
			ConfigurationID: configurationID,
			CreatedAt:       now.UTC().Truncate(time.Microsecond),
			Snapshot:        existingByUser[userID],
			RollbackData:    RollbackData{Keys: keysByUser[userID]},
		}
		if cp.Snapshot == nil {
			cp.Snapshot = []results.Result{}
		}
		if err := cp.Seal(); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

func keyLess(a, b results.Key) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.ConfigurationID < b.ConfigurationID
}
