package memstore

import (
	"context"
	"sort"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
)

// ConfigStore is the configs.Store view of the memory store.
type ConfigStore struct {
	s *Store
}

var _ configs.Store = ConfigStore{}

func (s *Store) Configs() ConfigStore {
	return ConfigStore{s: s}
}

func (cs ConfigStore) Create(_ context.Context, c configs.NewConfiguration) (*configs.Configuration, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	if err := cs.s.injected("Create"); err != nil {
		return nil, err
	}
	return cs.s.createConfiguration(c, false)
}

func (s *Store) createConfiguration(c configs.NewConfiguration, isDefault bool) (*configs.Configuration, error) {
	for _, existing := range s.configurations {
		if existing.Name == c.Name {
			return nil, acwrerr.NewValidation("name", "configuration %q already exists", c.Name)
		}
	}

	s.nextConfigID++
	created := &configs.Configuration{
		ID:                s.nextConfigID,
		Name:              c.Name,
		ChronicPeriodDays: c.ChronicPeriodDays,
		DecayRate:         c.DecayRate,
		IsActive:          true,
		IsDefault:         isDefault,
		Notes:             c.Notes,
		CreatedBy:         c.CreatedBy,
		CreatedAt:         s.timestamp(),
	}
	s.configurations[created.ID] = created

	cp := *created
	return &cp, nil
}

func (cs ConfigStore) Get(_ context.Context, id int64) (*configs.Configuration, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	if err := cs.s.injected("GetConfiguration"); err != nil {
		return nil, err
	}
	c, ok := cs.s.configurations[id]
	if !ok {
		return nil, acwrerr.NewNotFound("configuration", id)
	}
	cp := *c
	return &cp, nil
}

func (cs ConfigStore) List(_ context.Context, includeInactive bool) ([]configs.Configuration, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	var list []configs.Configuration
	for _, c := range cs.s.configurations {
		if c.IsActive || includeInactive {
			list = append(list, *c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (cs ConfigStore) GetDefault(_ context.Context) (*configs.Configuration, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()
	return cs.s.defaultConfiguration()
}

func (s *Store) defaultConfiguration() (*configs.Configuration, error) {
	for _, c := range s.configurations {
		if c.IsDefault {
			cp := *c
			return &cp, nil
		}
	}
	return nil, acwrerr.NewNotFound("default configuration", "-")
}

func (cs ConfigStore) SetDefault(_ context.Context, id int64) error {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	c, ok := cs.s.configurations[id]
	if !ok {
		return acwrerr.NewNotFound("configuration", id)
	}
	if !c.IsActive {
		return acwrerr.NewConflict("configuration %d is inactive and cannot become the default", id)
	}
	for _, other := range cs.s.configurations {
		other.IsDefault = other.ID == id
	}
	return nil
}

func (cs ConfigStore) EnsureDefault(_ context.Context, c configs.NewConfiguration) (*configs.Configuration, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	if existing, err := cs.s.defaultConfiguration(); err == nil {
		return existing, nil
	}
	for _, existing := range cs.s.configurations {
		if existing.Name == c.Name {
			existing.IsDefault = true
			existing.IsActive = true
			cp := *existing
			return &cp, nil
		}
	}
	return cs.s.createConfiguration(c, true)
}

func (cs ConfigStore) Deactivate(_ context.Context, id int64) error {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	c, ok := cs.s.configurations[id]
	if !ok {
		return acwrerr.NewNotFound("configuration", id)
	}
	if !c.IsActive {
		return nil
	}
	if c.IsDefault {
		return acwrerr.NewConflict("configuration %d is the system default", id)
	}
	assigned := 0
	for _, a := range cs.s.assignments {
		if a.IsActive && a.ConfigurationID == id {
			assigned++
		}
	}
	if assigned > 0 {
		return acwrerr.NewConflict("configuration %d is assigned to %d user(s)", id, assigned)
	}
	c.IsActive = false
	return nil
}

func (cs ConfigStore) ActiveAssignment(_ context.Context, userID int64) (*configs.Assignment, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	if err := cs.s.injected("ActiveAssignment"); err != nil {
		return nil, err
	}
	for _, a := range cs.s.assignments {
		if a.UserID == userID && a.IsActive {
			return copyAssignment(a), nil
		}
	}
	return nil, acwrerr.NewNotFound("configuration assignment", userID)
}

// Assign swaps the active assignment under the store mutex, the memory
// counterpart of the advisory lock the pgx repo takes.
func (cs ConfigStore) Assign(_ context.Context, a configs.Assignment) (*configs.Assignment, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	c, ok := cs.s.configurations[a.ConfigurationID]
	if !ok {
		return nil, acwrerr.NewNotFound("configuration", a.ConfigurationID)
	}
	if !c.IsActive {
		return nil, acwrerr.NewNotFound("active configuration", a.ConfigurationID)
	}

	for i := range cs.s.assignments {
		prev := &cs.s.assignments[i]
		if prev.UserID == a.UserID && prev.IsActive {
			deactivatedAt := a.AssignedAt
			prev.IsActive = false
			prev.DeactivatedAt = &deactivatedAt
		}
	}

	cs.s.nextAssignID++
	a.ID = cs.s.nextAssignID
	a.IsActive = true
	a.DeactivatedAt = nil
	cs.s.assignments = append(cs.s.assignments, a)
	return copyAssignment(a), nil
}

func (cs ConfigStore) AssignmentHistory(_ context.Context, userID int64) ([]configs.Assignment, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	var history []configs.Assignment
	for _, a := range cs.s.assignments {
		if a.UserID == userID {
			history = append(history, *copyAssignment(a))
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].AssignedAt.Equal(history[j].AssignedAt) {
			return history[i].AssignedAt.Before(history[j].AssignedAt)
		}
		return history[i].ID < history[j].ID
	})
	return history, nil
}

func (cs ConfigStore) UsersOnConfiguration(_ context.Context, id int64) ([]int64, error) {
	cs.s.mutex.Lock()
	defer cs.s.mutex.Unlock()

	var users []int64
	for _, a := range cs.s.assignments {
		if a.IsActive && a.ConfigurationID == id {
			users = append(users, a.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func copyAssignment(a configs.Assignment) *configs.Assignment {
	if a.DeactivatedAt != nil {
		t := *a.DeactivatedAt
		a.DeactivatedAt = &t
	}
	return &a
}
