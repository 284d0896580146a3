package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

func copyCheckpoint(c integrity.Checkpoint) integrity.Checkpoint {
	c.Snapshot = append([]results.Result(nil), c.Snapshot...)
	c.RollbackData.Keys = append([]results.Key(nil), c.RollbackData.Keys...)
	if c.Validation != nil {
		v := copyValidation(*c.Validation)
		c.Validation = &v
	}
	return c
}

func copyValidation(v integrity.ValidationResult) integrity.ValidationResult {
	v.Errors = append([]string(nil), v.Errors...)
	v.Warnings = append([]string(nil), v.Warnings...)
	return v
}

func (s *Store) CreateCheckpoints(_ context.Context, checkpoints []integrity.Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("CreateCheckpoints"); err != nil {
		return err
	}
	for _, c := range checkpoints {
		s.checkpoints = append(s.checkpoints, copyCheckpoint(c))
	}
	return nil
}

func (s *Store) SetCheckpointValidation(_ context.Context, migrationID string, batchID int, v integrity.ValidationResult) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	found := false
	for i := range s.checkpoints {
		c := &s.checkpoints[i]
		if c.MigrationID == migrationID && c.BatchID == batchID {
			cp := copyValidation(v)
			c.Validation = &cp
			found = true
		}
	}
	if !found {
		return acwrerr.NewNotFound("checkpoint", fmt.Sprintf("%s/%d", migrationID, batchID))
	}
	return nil
}

func (s *Store) Checkpoints(_ context.Context, filter integrity.CheckpointFilter) ([]integrity.Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("Checkpoints"); err != nil {
		return nil, err
	}
	var out []integrity.Checkpoint
	for i := range s.checkpoints {
		if filter.Match(&s.checkpoints[i]) {
			out = append(out, copyCheckpoint(s.checkpoints[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BatchID != out[j].BatchID {
			return out[i].BatchID < out[j].BatchID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) PurgeCheckpoints(_ context.Context, before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.checkpoints[:0]
	purged := 0
	for _, c := range s.checkpoints {
		if c.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, c)
	}
	s.checkpoints = kept
	return purged, nil
}

// TamperCheckpoint edits a stored checkpoint in place, bypassing the
// checksum. Tests use it to simulate corruption.
func (s *Store) TamperCheckpoint(migrationID string, batchID int, fn func(c *integrity.Checkpoint)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.checkpoints {
		if s.checkpoints[i].MigrationID == migrationID && s.checkpoints[i].BatchID == batchID {
			fn(&s.checkpoints[i])
		}
	}
}

func copyRollback(r *integrity.RollbackRecord) *integrity.RollbackRecord {
	c := *r
	c.ErrorLog = append([]string{}, r.ErrorLog...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *Store) CreateRollback(_ context.Context, r *integrity.RollbackRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.rollbacks[r.ID]; ok {
		return acwrerr.NewConflict("rollback %s exists", r.ID)
	}
	s.rollbacks[r.ID] = copyRollback(r)
	return nil
}

func (s *Store) UpdateRollback(_ context.Context, r *integrity.RollbackRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.rollbacks[r.ID]; !ok {
		return acwrerr.NewNotFound("rollback", r.ID)
	}
	s.rollbacks[r.ID] = copyRollback(r)
	return nil
}

func (s *Store) GetRollback(_ context.Context, id string) (*integrity.RollbackRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, ok := s.rollbacks[id]
	if !ok {
		return nil, acwrerr.NewNotFound("rollback", id)
	}
	return copyRollback(r), nil
}

func (s *Store) ListRollbacks(_ context.Context, migrationID string) ([]integrity.RollbackRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var list []integrity.RollbackRecord
	for _, r := range s.rollbacks {
		if r.MigrationID == migrationID {
			list = append(list, *copyRollback(r))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (s *Store) AppendAudit(_ context.Context, e integrity.AuditEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextAuditID++
	e.ID = s.nextAuditID
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) Audit(_ context.Context, rollbackID string) ([]integrity.AuditEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var entries []integrity.AuditEntry
	for _, e := range s.audit {
		if e.RollbackID == rollbackID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) PurgeRollbackAudit(_ context.Context, before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.audit[:0]
	purged := 0
	for _, e := range s.audit {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return purged, nil
}
