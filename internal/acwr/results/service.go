package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

// MaxPreviewDays bounds a what-if preview range.
const MaxPreviewDays = 366

type configResolver interface {
	Get(ctx context.Context, id int64) (*configs.Configuration, error)
	GetActiveConfiguration(ctx context.Context, userID int64) (*configs.Configuration, error)
}

type seriesSource interface {
	Today() time.Time
	Series(ctx context.Context, userID int64, asOf time.Time, chronicDays int) (*calc.Series, error)
	SeriesRange(ctx context.Context, userID int64, from, to time.Time, chronicDays int) (*calc.Series, error)
}

type State string

const (
	StateOK              State = "ok"
	StateBuildingHistory State = "building_history"
)

// DashboardMetrics is what the athlete dashboard renders. Ratio fields are
// nil while the user is still building history.
type DashboardMetrics struct {
	State                State                 `json:"state"`
	UserID               int64                 `json:"user_id"`
	ActivityDate         time.Time             `json:"activity_date"`
	ConfigurationID      int64                 `json:"configuration_id"`
	ChronicPeriodDays    int                   `json:"chronic_period_days"`
	DecayRate            float64               `json:"decay_rate"`
	ACWR                 *float64              `json:"acute_chronic_ratio,omitempty"`
	TrimpACWR            *float64              `json:"trimp_acute_chronic_ratio,omitempty"`
	NormalizedDivergence *float64              `json:"normalized_divergence,omitempty"`
	DataSufficiency      float64               `json:"data_sufficiency"`
	Reliable             bool                  `json:"reliable"`
	RiskZone             calc.RiskZone         `json:"risk_zone,omitempty"`
	DivergenceSignal     calc.DivergenceSignal `json:"divergence_signal,omitempty"`
	Message              string                `json:"message,omitempty"`
}

type PreviewPoint struct {
	Date                 time.Time     `json:"date"`
	ACWR                 float64       `json:"acuteChronicRatio"`
	TrimpACWR            *float64      `json:"trimpAcuteChronicRatio,omitempty"`
	NormalizedDivergence *float64      `json:"normalizedDivergence,omitempty"`
	DataSufficiency      float64       `json:"dataSufficiency"`
	RiskZone             calc.RiskZone `json:"riskZone"`
	// CurrentACWR is the ratio under the user's active configuration.
	CurrentACWR          *float64      `json:"currentAcuteChronicRatio,omitempty"`
}

// Preview is a side-effect free what-if evaluation of a configuration.
type Preview struct {
	UserID                 int64          `json:"userId"`
	ConfigurationID        int64          `json:"configurationId"`
	CurrentConfigurationID int64          `json:"currentConfigurationId"`
	From                   time.Time      `json:"from"`
	To                     time.Time      `json:"to"`
	Points                 []PreviewPoint `json:"points"`
	// Skipped counts days without a ratio (no history yet).
	Skipped                int            `json:"skipped"`
}

type Service struct {
	configs        configResolver
	source         seriesSource
	store          Store
	cache          MetricsCache
	metricsManager *metrics.Manager
	now            func() time.Time
}

type NewServiceParams struct {
	Configs        configResolver
	Source         seriesSource
	Store          Store
	Cache          MetricsCache // optional
	MetricsManager *metrics.Manager
	Now            func() time.Time
}

func NewService(params NewServiceParams) *Service {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		configs:        params.Configs,
		source:         params.Source,
		store:          params.Store,
		cache:          params.Cache,
		metricsManager: params.MetricsManager,
		now:            now,
	}
}

// CurrentMetrics serves the latest stored result of the user's active
// configuration. A user without stored results is building history.
func (s *Service) CurrentMetrics(ctx context.Context, userID int64) (_ *DashboardMetrics, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.results.current")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("user_id", userID))

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.countCache("error")
			log.Warnf("metrics cache get, user %d: %s", userID, err)
		case cached != nil:
			s.countCache("hit")
			return cached, nil
		default:
			s.countCache("miss")
		}
	}

	cfg, err := s.configs.GetActiveConfiguration(ctx, userID)
	if err != nil {
		return nil, err
	}

	dm := &DashboardMetrics{
		UserID:            userID,
		ConfigurationID:   cfg.ID,
		ChronicPeriodDays: cfg.ChronicPeriodDays,
		DecayRate:         cfg.DecayRate,
	}

	latest, err := s.store.Latest(ctx, userID, cfg.ID)
	switch {
	case err == nil:
		dm.State = StateOK
		dm.ActivityDate = latest.Date
		dm.ChronicPeriodDays = latest.ChronicPeriodDays
		dm.DecayRate = latest.DecayRate
		dm.ACWR = &latest.ACWR
		dm.TrimpACWR = latest.TrimpACWR
		dm.NormalizedDivergence = latest.NormalizedDivergence
		dm.DataSufficiency = latest.DataSufficiency
		dm.Reliable = latest.LookbackDays() >= calc.ReliableLookbackDays
		dm.RiskZone = calc.RiskZoneFor(latest.ACWR)
		if latest.NormalizedDivergence != nil {
			dm.DivergenceSignal = calc.DivergenceSignalFor(*latest.NormalizedDivergence)
		}
	case errors.Is(err, acwrerr.ErrNotFound):
		dm.State = StateBuildingHistory
		dm.Message = "building training history"
	default:
		return nil, fmt.Errorf("latest result of user %d: %w", userID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dm); err != nil {
			log.Warnf("metrics cache set, user %d: %s", userID, err)
		}
	}

	return dm, nil
}

// Calculate evaluates the user's metrics for date under the active
// configuration and stores the result.
func (s *Service) Calculate(ctx context.Context, userID int64, date time.Time) (_ *Result, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.results.calculate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("date", date.Format(time.DateOnly)),
	)

	cfg, err := s.configs.GetActiveConfiguration(ctx, userID)
	if err != nil {
		return nil, err
	}

	date = calc.Day(date)
	series, err := s.source.Series(ctx, userID, date, cfg.ChronicPeriodDays)
	if err != nil {
		return nil, err
	}

	m, err := calc.Evaluate(series, cfg.Params(), date)
	if err != nil {
		return nil, err
	}

	res := FromMetrics(userID, cfg.ID, m, s.now())
	if _, err := s.store.Upsert(ctx, []Result{res}); err != nil {
		return nil, fmt.Errorf("store calculation result: %w", err)
	}
	s.Invalidate(ctx, userID)

	return &res, nil
}

// History returns stored results for the user's active configuration.
func (s *Service) History(ctx context.Context, userID int64, from, to time.Time) ([]Result, error) {
	cfg, err := s.configs.GetActiveConfiguration(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Range(ctx, userID, cfg.ID, from, to)
}

// Preview evaluates every calendar day in [from, to] under the given
// configuration without persisting anything.
func (s *Service) Preview(ctx context.Context, configurationID, userID int64, from, to time.Time) (_ *Preview, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.acwr.results.preview")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("configuration_id", configurationID),
	)

	from, to = calc.Day(from), calc.Day(to)
	if to.Before(from) {
		return nil, acwrerr.NewValidation("to", "must not be before from")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxPreviewDays {
		return nil, acwrerr.NewValidation("to", "preview range is limited to %d days, got %d", MaxPreviewDays, days)
	}
	if today := s.source.Today(); to.After(today) {
		return nil, acwrerr.NewInvalidDate(to, "after the latest ingested day")
	}

	target, err := s.configs.Get(ctx, configurationID)
	if err != nil {
		return nil, err
	}
	current, err := s.configs.GetActiveConfiguration(ctx, userID)
	if err != nil {
		return nil, err
	}

	chronicDays := max(target.ChronicPeriodDays, current.ChronicPeriodDays)
	series, err := s.source.SeriesRange(ctx, userID, from, to, chronicDays)
	if err != nil {
		return nil, err
	}

	preview := &Preview{
		UserID:                 userID,
		ConfigurationID:        target.ID,
		CurrentConfigurationID: current.ID,
		From:                   from,
		To:                     to,
		Points:                 []PreviewPoint{},
	}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		m, err := calc.Evaluate(series, target.Params(), day)
		if err != nil {
			if skippable(err) {
				preview.Skipped++
				continue
			}
			return nil, err
		}

		point := PreviewPoint{
			Date:                 day,
			ACWR:                 m.ACWR,
			TrimpACWR:            m.TrimpACWR,
			NormalizedDivergence: m.NormalizedDivergence,
			DataSufficiency:      m.DataSufficiency,
			RiskZone:             m.RiskZone(),
		}
		if currentMetrics, err := calc.Evaluate(series, current.Params(), day); err == nil {
			point.CurrentACWR = &currentMetrics.ACWR
		}
		preview.Points = append(preview.Points, point)
	}

	return preview, nil
}

// Invalidate drops cached dashboard metrics. Failures are only logged, the
// cache entries expire on their own.
func (s *Service) Invalidate(ctx context.Context, userIDs ...int64) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		log.Errorf("invalidate metrics cache for %d user(s): %s", len(userIDs), err)
	}
}

func (s *Service) countCache(result string) {
	if s.metricsManager == nil {
		return
	}
	s.metricsManager.CounterMetricsCache.WithLabelValues(result).Inc()
}

// skippable reports days that only lack enough history.
func skippable(err error) bool {
	return errors.Is(err, acwrerr.ErrInsufficientHistory) || errors.Is(err, acwrerr.ErrInvalidDate)
}
