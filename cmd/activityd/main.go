// Command activityd is the process composition root: it wires the activity
// aggregation engine's background aggregation worker (C2) and the
// operational monitoring pipeline (C5-C11) together, serves the read API
// (C3, C4) over HTTP, and runs until terminated by SIGINT/SIGTERM.
//
// The Recorder (C1) is a library entry point meant to be called from inside
// a host application's own domain-write transaction (see SPEC_FULL.md §4.1);
// this binary does not expose a write path for it.
package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/infrastructure/metrics"
	"github.com/flowlane/pulsefeed/infrastructure/middleware"
	"github.com/flowlane/pulsefeed/internal/activity"
	"github.com/flowlane/pulsefeed/internal/activity/httpapi"
	"github.com/flowlane/pulsefeed/internal/activity/store"
	"github.com/flowlane/pulsefeed/internal/config"
	"github.com/flowlane/pulsefeed/internal/monitoring/batch"
	"github.com/flowlane/pulsefeed/internal/monitoring/fingerprint"
	"github.com/flowlane/pulsefeed/internal/monitoring/health"
	"github.com/flowlane/pulsefeed/internal/monitoring/interceptor"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
	"github.com/flowlane/pulsefeed/internal/monitoring/queue"
	"github.com/flowlane/pulsefeed/internal/monitoring/task"
)

const appVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("activityd: load config: %v", err)
	}

	logger := logging.New("activityd", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("activityd: open database: %v", err)
	}
	defer db.Close()
	activityStore := store.New(db)

	policy, err := activity.LoadPolicy(cfg.CategoryPolicyPath)
	if err != nil {
		log.Fatalf("activityd: load category policy: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()

	kvAdapter := kv.NewRedisAdapter(redisClient)
	kvFallback := kv.NewMemoryAdapter()
	queueAdapter := queue.NewRedisQueue(redisClient)

	n := notifier.New(notifier.Config{
		BotToken: cfg.BotToken,
		ChatID:   cfg.ChatID,
		ThreadID: cfg.ThreadID,
		Env:      cfg.MonitoringEnv,
	}, logging.New("notifier", cfg.LogLevel, cfg.LogFormat))

	rateLimiter := fingerprint.NewRateLimiter(kvAdapter, kvFallback, cfg.RateLimitWindow)

	aggregator := activity.NewAggregator(activityStore, noopUserDirectory{}, policy,
		logging.New("aggregator", cfg.LogLevel, cfg.LogFormat).Logger, cfg.SessionWindow)
	feedReader := activity.NewFeedReader(activityStore, noopPermissionOracle{}, noopUserDirectory{}, noopImageStore{})
	heatmapReader := activity.NewHeatmapReader(activityStore).WithCache(time.Minute)

	taskInstrumentor := task.New(kvAdapter, n, logging.New("task", cfg.LogLevel, cfg.LogFormat), task.Config{
		SlowThreshold: cfg.SlowTaskThreshold,
		Enabled:       cfg.MonitoringEnabled,
	}, health.QueueLastJobCompletedKey)

	prober := health.NewProber(health.NullDatabaseAdapter{}, kvAdapter, queueAdapter, n,
		logging.New("health", cfg.LogLevel, cfg.LogFormat), health.Config{
			DBTimeout:           5 * time.Second,
			KVTimeout:           3 * time.Second,
			QueueStuckThreshold: cfg.QueueStuckThreshold,
		})
	reporter := health.NewReporter(health.NullDatabaseAdapter{}, kvAdapter, n, logging.New("health", cfg.LogLevel, cfg.LogFormat))
	collector := batch.New(kvAdapter, n, logging.New("batch", cfg.LogLevel, cfg.LogFormat), batch.Config{
		Env:                  cfg.MonitoringEnv,
		BatchWindow:          cfg.BatchWindow,
		SlowRequestThreshold: cfg.SlowRequestThreshold,
		SlowTaskThreshold:    cfg.SlowTaskThreshold,
	})

	interceptorMW := interceptor.New(kvAdapter, rateLimiter, n, logging.New("interceptor", cfg.LogLevel, cfg.LogFormat), interceptor.Config{
		Enabled:             cfg.MonitoringEnabled,
		MonitorSlowRequests: true,
		SlowThreshold:       cfg.SlowRequestThreshold,
		BatchWindow:         cfg.BatchWindow,
		IgnoredPaths:        cfg.IgnoredExceptionPaths,
		IgnoredErrorClasses: cfg.IgnoredErrorClasses,
	})

	rateLimiterConfig := middleware.DefaultRateLimiterConfig(logging.New("ratelimit", cfg.LogLevel, cfg.LogFormat))
	apiRateLimiter := middleware.NewRateLimiterFromConfig(rateLimiterConfig)
	stopRateLimiterCleanup := middleware.StartCleanupFromConfig(apiRateLimiter, rateLimiterConfig)
	defer stopRateLimiterCleanup()

	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins})
	securityHeaders := middleware.NewSecurityHeadersMiddleware(nil)
	requestTimeout := middleware.NewTimeoutMiddleware(cfg.RequestTimeout)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	readOnlyValidation := middleware.NewValidationMiddleware(middleware.ValidationConfig{
		AllowedMethods: []string{http.MethodGet},
	})

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(securityHeaders.Handler)
	router.Use(cors.Handler)
	router.Use(requestTimeout.Handler)
	router.Use(bodyLimit.Handler)
	router.Use(readOnlyValidation.Handler)
	router.Use(interceptorMW.Handler)
	router.Use(apiRateLimiter.Handler)
	if metrics.Enabled() {
		metricsCollector := metrics.Init("activityd")
		router.Use(middleware.MetricsMiddleware("activityd", metricsCollector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.Handle("/health", middleware.NewHealthChecker(appVersion).Handler()).Methods(http.MethodGet)

	httpapi.New(feedReader, heatmapReader, logger).Register(router)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	stopWorkers := runBackgroundLoops(ctx, cfg, queueAdapter, aggregator, taskInstrumentor, prober, reporter, collector)

	go func() {
		logger.Info(ctx, "activityd listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("activityd: serve: %v", err)
		}
	}()

	shutdown := middleware.NewGracefulShutdown(server, 15*time.Second)
	shutdown.OnShutdown(stopWorkers)
	shutdown.OnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := interceptorMW.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "side tasks did not drain in time", nil)
		}
	})
	shutdown.ListenForSignals()
	shutdown.Wait()
}

// runBackgroundLoops starts the session-aggregation poller plus the
// cron-scheduled health/report/batch jobs, returning a stop function.
func runBackgroundLoops(
	ctx context.Context,
	cfg *config.Config,
	queueAdapter queue.Adapter,
	aggregator *activity.Aggregator,
	taskInstrumentor *task.Instrumentor,
	prober *health.Prober,
	reporter *health.Reporter,
	collector *batch.Collector,
) func() {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				drainDueJobs(ctx, queueAdapter, aggregator, taskInstrumentor)
			}
		}
	}()

	healthInterval := cfg.HealthInterval
	if healthInterval <= 0 {
		healthInterval = 30 * time.Minute
	}

	c := cron.New()
	_, _ = c.AddFunc(cronSpec(cfg.DailyReportHour, cfg.DailyReportMinute), func() {
		_ = taskInstrumentor.Run(ctx, "daily_report", func(ctx context.Context) error {
			reporter.Run(ctx)
			return nil
		})
	})
	_, _ = c.AddFunc("@every 15m", func() {
		_ = taskInstrumentor.Run(ctx, "batch_alerts", func(ctx context.Context) error {
			collector.Run(ctx)
			return nil
		})
	})
	_, _ = c.AddFunc("@every "+healthInterval.String(), func() {
		prober.Run(ctx)
	})
	c.Start()

	prober.StartupNotice(ctx, cfg.MonitoringEnv, appVersion, cfg.DailyReportDedupWindow)

	return func() {
		close(stopCh)
		c.Stop()
	}
}

// drainDueJobs pops and executes elapsed queue jobs. Only the session
// aggregation job kind is known to this process; unrecognized kinds are
// dropped rather than retried forever.
func drainDueJobs(ctx context.Context, q queue.Adapter, aggregator *activity.Aggregator, in *task.Instrumentor) {
	jobs, err := q.Due(ctx, time.Now(), 50)
	if err != nil || len(jobs) == 0 {
		return
	}
	for _, job := range jobs {
		job := job
		if job.Kind != activity.AggregateSessionJobKind {
			continue
		}
		_ = in.Run(ctx, activity.AggregateSessionJobKind, func(ctx context.Context) error {
			return aggregator.Aggregate(ctx, job.Argument)
		})
	}
}

func cronSpec(hour, minute int) string {
	return strconv.Itoa(minute) + " " + strconv.Itoa(hour) + " * * *"
}
