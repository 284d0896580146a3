// Package memstore keeps every ACWR table in process memory. It backs the
// service in -memory mode and the service level tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/loads"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/migration"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

var (
	_ loads.Store               = (*Store)(nil)
	_ integrity.CheckpointStore = (*Store)(nil)
	_ integrity.RollbackStore   = (*Store)(nil)
	_ migration.Store           = (*Store)(nil)
)

type sampleKey struct {
	userID int64
	date   time.Time
}

type Store struct {
	mutex sync.Mutex
	now   func() time.Time

	samples map[sampleKey]calc.LoadSample

	configurations map[int64]*configs.Configuration
	nextConfigID   int64
	assignments    []configs.Assignment
	nextAssignID   int64

	results map[results.Key]results.Result

	checkpoints []integrity.Checkpoint
	rollbacks   map[string]*integrity.RollbackRecord
	audit       []integrity.AuditEntry
	nextAuditID int64

	migrations map[string]*migration.Migration

	// failures injected by tests, keyed by operation name
	failures map[string]error
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func New() *Store {
	return &Store{
		now:            time.Now,
		samples:        map[sampleKey]calc.LoadSample{},
		configurations: map[int64]*configs.Configuration{},
		results:        map[results.Key]results.Result{},
		rollbacks:      map[string]*integrity.RollbackRecord{},
		migrations:     map[string]*migration.Migration{},
		failures:       map[string]error{},
	}
}

// FailOn makes every later call of op return err, until cleared with a nil
// error. Ops are named after the store methods, e.g. "Upsert".
func (s *Store) FailOn(op string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	return s.failures[op]
}

func (s *Store) Add(_ context.Context, samples []calc.LoadSample) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("Add"); err != nil {
		return 0, err
	}

	inserted := 0
	for _, sample := range samples {
		sample.Date = calc.Day(sample.Date)
		k := sampleKey{userID: sample.UserID, date: sample.Date}
		if _, ok := s.samples[k]; ok {
			continue
		}
		s.samples[k] = sample
		inserted++
	}
	return inserted, nil
}

func (s *Store) Samples(_ context.Context, userID int64, from, to time.Time) ([]calc.LoadSample, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("Samples"); err != nil {
		return nil, err
	}

	from, to = calc.Day(from), calc.Day(to)
	var out []calc.LoadSample
	for k, sample := range s.samples {
		if k.userID != userID || k.date.Before(from) || k.date.After(to) {
			continue
		}
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *Store) FirstDate(_ context.Context, userID int64) (time.Time, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var first time.Time
	for k := range s.samples {
		if k.userID != userID {
			continue
		}
		if first.IsZero() || k.date.Before(first) {
			first = k.date
		}
	}
	if first.IsZero() {
		return time.Time{}, acwrerr.NewNotFound("load history", userID)
	}
	return first, nil
}
