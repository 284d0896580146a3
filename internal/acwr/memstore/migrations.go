package memstore

import (
	"context"
	"sort"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/migration"
)

func (s *Store) CreateMigration(_ context.Context, m *migration.Migration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("CreateMigration"); err != nil {
		return err
	}
	if _, ok := s.migrations[m.ID]; ok {
		return acwrerr.NewConflict("migration %s exists", m.ID)
	}
	s.migrations[m.ID] = m.Clone()
	return nil
}

func (s *Store) UpdateMigration(_ context.Context, m *migration.Migration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.injected("UpdateMigration"); err != nil {
		return err
	}
	if _, ok := s.migrations[m.ID]; !ok {
		return acwrerr.NewNotFound("migration", m.ID)
	}
	s.migrations[m.ID] = m.Clone()
	return nil
}

func (s *Store) GetMigration(_ context.Context, id string) (*migration.Migration, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m, ok := s.migrations[id]
	if !ok {
		return nil, acwrerr.NewNotFound("migration", id)
	}
	return m.Clone(), nil
}

func (s *Store) ListMigrations(_ context.Context, status migration.Status) ([]migration.Migration, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	list := []migration.Migration{}
	for _, m := range s.migrations {
		if status == "" || m.Status == status {
			list = append(list, *m.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}
