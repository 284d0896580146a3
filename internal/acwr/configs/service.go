package configs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

const (
	cacheTTLSeconds = 300
	minCacheBytes   = 512 * 1024
)

// AssignmentListener is notified after a user's active configuration changed.
type AssignmentListener func(ctx context.Context, userID int64)

type Service struct {
	store Store
	cache *freecache.Cache
	now   func() time.Time

	listenersMu sync.RWMutex
	listeners   []AssignmentListener
}

func NewService(store Store, cacheSizeMB int) *Service {
	cacheBytes := cacheSizeMB * 1024 * 1024
	if cacheBytes < minCacheBytes {
		cacheBytes = minCacheBytes
	}
	return &Service{
		store: store,
		cache: freecache.NewCache(cacheBytes),
		now:   time.Now,
	}
}

func (s *Service) OnAssignmentChange(l AssignmentListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) Create(ctx context.Context, c NewConfiguration) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.configs.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := c.Normalize(); err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create configuration %q: %w", c.Name, err)
	}
	log.Infof("acwr configuration created: [%d] %s (%d days, decay %v) by %s",
		created.ID, created.Name, created.ChronicPeriodDays, created.DecayRate, created.CreatedBy)
	return created, nil
}

// Get returns the configuration by id, served from the in-process cache when
// possible. Inactive configurations are returned too.
func (s *Service) Get(ctx context.Context, id int64) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.configs.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	key := cacheKey(id)
	if cached, getErr := s.cache.Get(key); getErr == nil {
		c := &Configuration{}
		if err := json.Unmarshal(cached, c); err == nil {
			span.SetAttributes(attribute.Bool("cache-hit", true))
			return c, nil
		}
		s.cache.Del(key)
	}

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(c); err == nil {
		if err := s.cache.Set(key, encoded, cacheTTLSeconds); err != nil {
			log.Warnf("cache configuration %d: %s", id, err)
		}
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, includeInactive bool) ([]Configuration, error) {
	list, err := s.store.List(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return list, nil
}

// GetActiveConfiguration resolves the configuration a user's metrics are
// computed with: the active assignment, else the system default.
func (s *Service) GetActiveConfiguration(ctx context.Context, userID int64) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.configs.active")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("user_id", userID))

	assignment, err := s.store.ActiveAssignment(ctx, userID)
	switch {
	case err == nil:
		return s.Get(ctx, assignment.ConfigurationID)
	case errors.Is(err, acwrerr.ErrNotFound):
		def, err := s.store.GetDefault(ctx)
		if err != nil {
			return nil, fmt.Errorf("default configuration: %w", err)
		}
		return def, nil
	default:
		return nil, fmt.Errorf("active assignment of user %d: %w", userID, err)
	}
}

func (s *Service) Assign(ctx context.Context, userID, configurationID int64, assignedBy, reason string) (_ *Assignment, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.configs.assign")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if userID <= 0 {
		return nil, acwrerr.NewValidation("user_id", "must be positive, got %d", userID)
	}
	if assignedBy == "" {
		return nil, acwrerr.NewValidation("assigned_by", "must not be empty")
	}

	assignment, err := s.store.Assign(ctx, Assignment{
		UserID:          userID,
		ConfigurationID: configurationID,
		AssignedAt:      s.now().UTC().Truncate(time.Microsecond),
		AssignedBy:      assignedBy,
		Reason:          reason,
		IsActive:        true,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("user %d assigned to acwr configuration %d by %s: %s", userID, configurationID, assignedBy, reason)
	s.notifyAssignmentChange(ctx, userID)
	return assignment, nil
}

func (s *Service) AssignmentHistory(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.store.AssignmentHistory(ctx, userID)
}

func (s *Service) UsersOnConfiguration(ctx context.Context, id int64) ([]int64, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.UsersOnConfiguration(ctx, id)
}

// Deactivate soft-deletes a configuration. It refuses while users are still
// assigned to it or when it is the system default.
func (s *Service) Deactivate(ctx context.Context, id int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.configs.deactivate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.cache.Del(cacheKey(id))
	log.Infof("acwr configuration %d deactivated", id)
	return nil
}

func (s *Service) SetDefault(ctx context.Context, id int64) error {
	if err := s.store.SetDefault(ctx, id); err != nil {
		return err
	}
	// two rows changed their default flag
	s.cache.Clear()
	log.Infof("acwr configuration %d is the new system default", id)
	return nil
}

func (s *Service) EnsureDefault(ctx context.Context) (*Configuration, error) {
	def, err := s.store.EnsureDefault(ctx, DefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("ensure default configuration: %w", err)
	}
	log.Debugf("default acwr configuration: [%d] %s", def.ID, def.Name)
	return def, nil
}

func (s *Service) notifyAssignmentChange(ctx context.Context, userID int64) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ctx, userID)
	}
}

func cacheKey(id int64) []byte {
	return []byte("cfg:" + strconv.FormatInt(id, 10))
}
