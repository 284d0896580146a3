package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
)

// ResultStore is the results.Store view of the memory store.
type ResultStore struct {
	s *Store
}

var _ results.Store = ResultStore{}

func (s *Store) Results() ResultStore {
	return ResultStore{s: s}
}

func normalizeKey(k results.Key) results.Key {
	return results.NewKey(k.UserID, k.Date, k.ConfigurationID)
}

func (rs ResultStore) Upsert(_ context.Context, rows []results.Result) (int, error) {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	if err := rs.s.injected("Upsert"); err != nil {
		return 0, err
	}
	for _, r := range rows {
		r.Date = calc.Day(r.Date)
		rs.s.results[r.Key()] = r
	}
	return len(rows), nil
}

func (rs ResultStore) Get(_ context.Context, keys []results.Key) ([]results.Result, error) {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	if err := rs.s.injected("GetResults"); err != nil {
		return nil, err
	}
	var out []results.Result
	seen := map[results.Key]bool{}
	for _, k := range keys {
		k = normalizeKey(k)
		if seen[k] {
			continue
		}
		seen[k] = true
		if r, ok := rs.s.results[k]; ok {
			out = append(out, r)
		}
	}
	sortResults(out)
	return out, nil
}

func (rs ResultStore) Range(_ context.Context, userID, configurationID int64, from, to time.Time) ([]results.Result, error) {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	from, to = calc.Day(from), calc.Day(to)
	var out []results.Result
	for k, r := range rs.s.results {
		if k.UserID != userID || k.ConfigurationID != configurationID {
			continue
		}
		if k.Date.Before(from) || k.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	sortResults(out)
	return out, nil
}

func (rs ResultStore) Latest(_ context.Context, userID, configurationID int64) (*results.Result, error) {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	var latest *results.Result
	for k, r := range rs.s.results {
		if k.UserID != userID || k.ConfigurationID != configurationID {
			continue
		}
		if latest == nil || r.Date.After(latest.Date) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, acwrerr.NewNotFound("calculation result", fmt.Sprintf("%d/%d", userID, configurationID))
	}
	return latest, nil
}

// Restore applies deletes and inserts together or not at all.
func (rs ResultStore) Restore(_ context.Context, deleteKeys []results.Key, rows []results.Result) (int, error) {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	if err := rs.s.injected("Restore"); err != nil {
		return 0, err
	}
	affected := 0
	for _, k := range deleteKeys {
		k = normalizeKey(k)
		if _, ok := rs.s.results[k]; ok {
			delete(rs.s.results, k)
			affected++
		}
	}
	for _, r := range rows {
		r.Date = calc.Day(r.Date)
		rs.s.results[r.Key()] = r
		affected++
	}
	return affected, nil
}

// All returns every stored result, ordered by user, date and configuration.
func (rs ResultStore) All() []results.Result {
	rs.s.mutex.Lock()
	defer rs.s.mutex.Unlock()

	out := make([]results.Result, 0, len(rs.s.results))
	for _, r := range rs.s.results {
		out = append(out, r)
	}
	sortResults(out)
	return out
}

func sortResults(rows []results.Result) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ConfigurationID < b.ConfigurationID
	})
}
