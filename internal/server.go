package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/loads"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/memstore"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/migration"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/config"
	"github.com/robkhoughton/trainingmonkey/internal/db"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

type purgeStore interface {
	PurgeCheckpoints(ctx context.Context, before time.Time) (int, error)
	PurgeRollbackAudit(ctx context.Context, before time.Time) (int, error)
}

// stores is the persistence side of the service, postgres or in-memory.
type stores struct {
	loads       loads.Store
	configs     configs.Store
	results     results.Store
	migrations  migration.Store
	checkpoints integrity.CheckpointStore
	rollbacks   integrity.RollbackStore
	purge       purgeStore
}

func postgresStores(dbPool *pgxpool.Pool) stores {
	integrityRepo := integrity.NewRepo(dbPool)
	return stores{
		loads:       loads.NewRepo(dbPool),
		configs:     configs.NewRepo(dbPool),
		results:     results.NewRepo(dbPool),
		migrations:  migration.NewRepo(dbPool),
		checkpoints: integrityRepo,
		rollbacks:   integrityRepo,
		purge:       integrityRepo,
	}
}

func memoryStores(store *memstore.Store) stores {
	return stores{
		loads:       store,
		configs:     store.Configs(),
		results:     store.Results(),
		migrations:  store,
		checkpoints: store,
		rollbacks:   store,
		purge:       store,
	}
}

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	ownsRedis   bool

	loadsHandler *loads.Handler
	configs      *configs.Service
	results      *results.Service
	engine       *migration.Engine
	rollbacks    *integrity.Manager
	purger       *integrity.Purger

	authMiddleware *middleware.AuthMiddlewareHandler

	// background jobs (retention purge)
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config            *config.Config
	VersionInfo       string
	RedisPassword     string
	PostgresPassword  string
	OperatorTokenHash string
	IngestSecret      string
	// InMemory keeps every store in process memory; used for local runs and tests.
	InMemory                bool
	HoneycombTracingEnabled bool
	// RedisClient, when set, is used instead of dialing Config.RedisHost.
	RedisClient *redis.Client
	Now         func() time.Time
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	now := params.Now
	if now == nil {
		now = time.Now
	}

	var (
		dbPool *pgxpool.Pool
		st     stores
		extra  []prometheus.Collector
	)
	if params.InMemory {
		log.Warnln("running with in-memory stores, nothing will be persisted")
		st = memoryStores(memstore.New())
	} else {
		var err error
		dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		st = postgresStores(dbPool)
		extra = append(extra, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	promRegistry := metrics.SetupPrometheus(extra...)
	metricsManager := metrics.NewManager("acwr", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb, ownsRedis := params.RedisClient, false
	if rdb == nil {
		ownsRedis = true
		rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
	}
	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "acwr-service", rdb)
	if err != nil {
		return nil, err
	}

	acwrCfg := cfg.ACWR
	defaultLevel, err := integrity.ParseLevel(acwrCfg.DefaultValidationLevel)
	if err != nil {
		return nil, fmt.Errorf("default validation level: %w", err)
	}

	configService := configs.NewService(st.configs, acwrCfg.ConfigCacheSizeMB)
	if _, err := configService.EnsureDefault(ctx); err != nil {
		return nil, fmt.Errorf("ensure default configuration: %w", err)
	}

	source := loads.NewSource(st.loads, now)
	resultsService := results.NewService(results.NewServiceParams{
		Configs:        configService,
		Source:         source,
		Store:          st.results,
		Cache:          results.NewRedisMetricsCache(rdb, acwrCfg.MetricsCacheTTL.Duration),
		MetricsManager: metricsManager,
		Now:            now,
	})
	configService.OnAssignmentChange(func(ctx context.Context, userID int64) {
		resultsService.Invalidate(ctx, userID)
	})

	rollbackManager := integrity.NewManager(integrity.NewManagerParams{
		Checkpoints:    st.checkpoints,
		Rollbacks:      st.rollbacks,
		Results:        st.results,
		Assignments:    configService,
		Invalidator:    resultsService,
		MetricsManager: metricsManager,
		Now:            now,
	})
	validator := integrity.NewValidator(st.results, source, integrity.ValidatorOptions{
		WarningFailureRatio: acwrCfg.WarningFailureRatio,
		StrictSampleSize:    acwrCfg.StrictSampleSize,
		ParanoidTimeout:     acwrCfg.ParanoidTimeout.Duration,
		Tolerance:           integrity.DefaultTolerance,
	}, metricsManager)

	engine := migration.NewEngine(migration.NewEngineParams{
		Store:       st.migrations,
		Configs:     configService,
		Source:      source,
		Results:     st.results,
		Checkpoints: rollbackManager,
		Validator:   validator,
		Locker:      migration.NewRedisLocker(rdb),
		Sink: migration.MultiSink{
			migration.LogSink{},
			migration.NewRedisSink(rdb),
			migration.NewMetricsSink(metricsManager),
		},
		Invalidator:    resultsService,
		MetricsManager: metricsManager,
		Now:            now,
		Options: migration.Options{
			DefaultBatchSize:         acwrCfg.DefaultBatchSize,
			DefaultValidationLevel:   defaultLevel,
			MaxConcurrentSeriesLoads: acwrCfg.MaxConcurrentSeriesLoads,
			LockTTL:                  acwrCfg.MigrationLockTTL.Duration,
		},
	})
	rollbackManager.SetGuard(engine)

	paused, err := engine.Recover(ctx)
	if err != nil {
		log.Errorf("recover interrupted migrations: %s", err)
	} else if len(paused) > 0 {
		log.Warnf("paused %d migrations interrupted by a restart: %v", len(paused), paused)
	}

	s := &Server{
		config:      cfg,
		dbPool:      dbPool,
		versionInfo: params.VersionInfo,
		redisClient: rdb,
		ownsRedis:   ownsRedis,

		loadsHandler: loads.NewHandler(st.loads, metricsManager, now),
		configs:      configService,
		results:      resultsService,
		engine:       engine,
		rollbacks:    rollbackManager,
		purger: integrity.NewPurger(
			st.purge,
			acwrCfg.CheckpointRetention(),
			acwrCfg.RollbackAuditRetention(),
		),

		authMiddleware: middleware.NewAuthMiddlewareHandler(params.OperatorTokenHash, params.IngestSecret),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	return s, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("acwr-router"))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteTextResponseOK(w, "ok")
	}).Methods("GET").Name("health")
	r.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteTextResponseOK(w, s.versionInfo)
	}).Methods("GET").Name("version")

	s.loadsHandler.SetupRoutes(r)
	configs.NewHandler(s.configs).SetupRoutes(r)
	results.NewHandler(s.results).SetupRoutes(
		r,
		redis_rate.NewLimiter(s.redisClient),
		s.config.ACWR.PreviewRateLimitPerMin,
		s.metricsManager,
	)
	migration.NewHandler(s.engine).SetupRoutes(r)
	integrity.NewHandler(s.rollbacks).SetupRoutes(r)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.Origins()...))
	r.Use(s.authMiddleware.AuthCheck())
	r.Use(middleware.LimitAndDrainRequest(middleware.DefaultMaxBodyBytes))

	return r
}

// Handler exposes the API router without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.routerSetup()
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.startBackgroundJobs(ctx)
	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) startBackgroundJobs(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.purger.Run(bgCtx, s.config.ACWR.PurgeInterval.Duration, time.Now)
	}()
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	// running migrations stop after their current batch and stay paused
	if err := s.engine.Shutdown(ctx); err != nil {
		log.Errorf("migration engine shutdown: %s", err)
	} else {
		log.Debugln("migration engine stopped")
	}

	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil && s.ownsRedis {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
