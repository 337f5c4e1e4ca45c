package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/coocood/freecache"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"

	"github.com/2beens/fitcoach/internal/accounts"
	"github.com/2beens/fitcoach/internal/auth"
	"github.com/2beens/fitcoach/internal/coach/messages"
	"github.com/2beens/fitcoach/internal/coach/predictor"
	"github.com/2beens/fitcoach/internal/coach/progress"
	"github.com/2beens/fitcoach/internal/config"
	"github.com/2beens/fitcoach/internal/db"
	"github.com/2beens/fitcoach/internal/middleware"
	"github.com/2beens/fitcoach/internal/misc"
	"github.com/2beens/fitcoach/internal/telemetry/metrics"
	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/pkg"
)

const sessionsCleanupInterval = 8 * time.Hour

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	scorer        predictor.Scorer
	progressStore progress.Store
	closeStore    func() error
	statusCache   *freecache.Cache
	quotesManager *misc.QuotesManager
	accountsRepo  accounts.Repo
	passwordCost  int

	loginChecker auth.Checker
	authService  *auth.Service
	rateLimiter  middleware.RequestRateLimiter

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	RedisPassword           string
	DBUser                  string
	DBPassword              string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBUser:         params.DBUser,
		DBPassword:     params.DBPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	dbReachable := true
	if err := dbPool.Ping(ctx); err != nil {
		dbReachable = false
		log.Warnf("failed to ping db: %s", err)
	}

	if cfg.MigrateOnStart && dbReachable {
		if err := db.Migrate(ctx, dbPool); err != nil {
			return nil, fmt.Errorf("migrate db: %w", err)
		}
		log.Debugln("db schema migrated")
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": cfg.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("coach", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "fitcoach-backend", rdb)
	if err != nil {
		return nil, err
	}

	progressStore, closeStore, err := progress.Open(ctx, progress.OpenParams{
		Backend:     cfg.ProgressStore,
		FilePath:    cfg.ProgressFilePath,
		SQLitePath:  cfg.SQLitePath,
		DBPool:      dbPool,
		RedisClient: rdb,
	})
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	log.Infof("using [%s] progress store", cfg.ProgressStore)

	var accountsRepo accounts.Repo = accounts.NewPostgresRepo(dbPool)
	if cfg.AccountsStore == config.AccountsMemory {
		accountsRepo = accounts.NewMemoryRepo()
	}

	quotesManager, err := misc.NewEmbeddedQuotesManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create quote manager: %w", err)
	}

	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,
		dbPool:      dbPool,
		redisClient: rdb,

		scorer:        predictor.DefaultPolicy,
		progressStore: progressStore,
		closeStore:    closeStore,
		statusCache:   freecache.NewCache(cfg.StatusCacheSizeMB * 1024 * 1024),
		quotesManager: quotesManager,
		accountsRepo:  accountsRepo,
		passwordCost:  pkg.DefaultPasswordCost,

		loginChecker: auth.NewLoginChecker(auth.DefaultTTL, rdb),
		authService:  auth.NewAuthService(auth.DefaultTTL, rdb),
		rateLimiter:  redis_rate.NewLimiter(rdb),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	return s, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	miscHandler := misc.NewHandler(s.quotesManager, s.versionInfo)
	miscHandler.SetupRoutes(r)

	progressService := progress.NewService(
		s.progressStore,
		s.scorer,
		s.statusCache,
		s.config.StatusCacheTTLSeconds,
		s.metricsManager,
	)
	if fileStore, ok := s.progressStore.(*progress.FileStore); ok {
		// statuses derived before an external reload are stale
		fileStore.OnReload(progressService.ClearStatusCache)
	}
	progressHandler := progress.NewHandler(progressService)
	r.HandleFunc("/feedback", progressHandler.HandleFeedback).Methods("POST", "OPTIONS").Name("feedback")
	r.HandleFunc("/status/{userId}", progressHandler.HandleStatus).Methods("GET", "OPTIONS").Name("status")
	r.HandleFunc("/progress_data/{userId}", progressHandler.HandleOverview).Methods("GET", "OPTIONS").Name("progress-data")

	predictHandler := predictor.NewHandler(s.scorer, s.metricsManager)
	r.HandleFunc("/predict_completion", predictHandler.HandlePredictCompletion).Methods("POST", "OPTIONS").Name("predict")

	coachHandler := messages.NewHandler()
	r.HandleFunc("/coach_response", coachHandler.HandleCoachResponse).Methods("POST", "OPTIONS").Name("coach-response")

	accountsHandler := accounts.NewHandler(
		accounts.NewService(s.accountsRepo, s.authService, s.metricsManager, s.passwordCost),
	)
	r.HandleFunc("/logout", accountsHandler.HandleLogout).Methods("GET", "OPTIONS").Name("logout")

	// rate limit signup and login to slow down credential guessing
	authSubrouter := r.NewRoute().Subrouter()
	authSubrouter.HandleFunc("/signup", accountsHandler.HandleSignup).Methods("POST", "OPTIONS").Name("signup")
	authSubrouter.HandleFunc("/login", accountsHandler.HandleLogin).Methods("POST", "OPTIONS").Name("login")
	authSubrouter.Use(middleware.RateLimit(s.rateLimiter, "auth", s.config.AuthRateLimitAllowedPerMin, s.metricsManager))

	// all the rest - unhandled paths
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteJSONError(w, "Not found", http.StatusNotFound)
	})

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	if s.config.AuthRequired {
		authMiddleware := middleware.NewAuthMiddlewareHandler(s.loginChecker, middleware.DefaultPublicPaths)
		r.Use(authMiddleware.AuthCheck())
	}
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", otelhttp.NewHandler(
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
		"metrics",
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

	go s.cleanSessionsPeriodically(ctx, sessionsCleanupInterval)

	if fileStore, ok := s.progressStore.(*progress.FileStore); ok && s.config.ProgressFileWatch {
		go func() {
			log.Debugf("watching progress file [%s] for external changes", fileStore.Path())
			if err := fileStore.Watch(ctx); err != nil {
				log.Errorf("watch progress file: %s", err)
			}
		}()
	}

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) cleanSessionsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.authService.ScanAndClean(ctx)
		}
	}
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var err error
	if s.httpServer != nil {
		err = multierr.Append(err, s.httpServer.Shutdown(ctx))
		log.Warnln("server shut down")
	}
	if s.metricsHttpServer != nil {
		err = multierr.Append(err, s.metricsHttpServer.Shutdown(ctx))
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.closeStore != nil {
		err = multierr.Append(err, s.closeStore())
	}

	if s.redisClient != nil {
		err = multierr.Append(err, s.redisClient.Close())
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	for _, shutdownErr := range multierr.Errors(err) {
		log.Errorf("graceful shutdown: %s", shutdownErr)
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}
