// Package bootstrap assembles the service from configuration: storage,
// model clients, the voice controller, the admin API and the trailing job
// worker.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azentyk/voice-appointments/internal/admin"
	"github.com/azentyk/voice-appointments/internal/api/router"
	"github.com/azentyk/voice-appointments/internal/archive"
	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/dialogue"
	"github.com/azentyk/voice-appointments/internal/extraction"
	httpmiddleware "github.com/azentyk/voice-appointments/internal/http/middleware"
	"github.com/azentyk/voice-appointments/internal/intent"
	"github.com/azentyk/voice-appointments/internal/jobs"
	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/internal/voice"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

// App is the wired service.
type App struct {
	// Handler serves the webhooks, the admin API, /health and /metrics.
	Handler http.Handler
	// Ops serves only /health and /metrics, for processes without webhooks.
	Ops    http.Handler
	Worker *jobs.Worker

	limiter *httpmiddleware.RateLimiter
	stop    chan struct{}
	closers []func()
}

// Build wires every component from cfg. Callers must Close the App.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{stop: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	voiceMetrics := metrics.NewVoiceMetrics(reg)
	dialogueMetrics := metrics.NewDialogueMetrics(reg)
	healthChecks := map[string]router.HealthCheck{}

	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	repo, pool, err := BuildAppointmentRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		app.closers = append(app.closers, pool.Close)
		healthChecks["postgres"] = pool.Ping
	}

	models, err := BuildModelStack(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = models.Close() })

	retriever, err := BuildRetriever(ctx, cfg, awsCfg, redisClient, logger)
	if err != nil {
		return nil, err
	}

	sessionStore := BuildSessionStore(cfg, redisClient, logger)
	locker := BuildLocker(cfg, redisClient)

	engine := dialogue.NewEngine(models.Client, retriever, BuildHistoryStore(cfg, redisClient),
		dialogue.WithModel(models.Model),
		dialogue.WithMaxTokens(int32(cfg.ModelMaxTokens)),
		dialogue.WithTimeout(cfg.ModelTimeout),
		dialogue.WithMinWait(cfg.ModelMinWait),
		dialogue.WithMetrics(dialogueMetrics),
		dialogue.WithLogger(logger),
	)
	extractor := extraction.NewExtractor(models.Client, models.Model, extraction.WithLogger(logger))

	queue, err := BuildJobQueue(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	jobStore := BuildJobStore(cfg, awsCfg, logger)
	publisher := jobs.NewPublisher(queue, jobStore, logger)

	archiver := archive.NewArchiver(
		archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger),
		archive.NewLabeler(models.Client, models.Model),
		logger,
	)
	processor := jobs.NewProcessor(extractor, repo, locker, BuildNotifier(cfg, awsCfg, voiceMetrics, logger), archiver, logger)
	app.Worker = jobs.NewWorker(processor, queue, jobStore, logger,
		jobs.WithWorkerCount(cfg.WorkerCount),
		jobs.WithWorkerMetrics(voiceMetrics),
	)

	voiceHandler := voice.NewHandler(sessionStore, engine, intent.NewPhraseClassifier(), extractor, repo, publisher, voiceMetrics, voice.Config{
		PublicBaseURL:     cfg.PublicBaseURL,
		VoiceName:         cfg.VoiceName,
		Language:          cfg.VoiceLanguage,
		VerifyTimeout:     cfg.VerifyTimeout,
		ValidateSignature: cfg.TwilioValidateSignature,
		TwilioAuthToken:   cfg.TwilioAuthToken,
	}, logger)

	app.limiter = httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst)
	go app.limiter.Run(app.stop)

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	app.Handler = router.New(&router.Config{
		Logger:          logger,
		Voice:           voiceHandler,
		Admin:           admin.NewHandler(repo, jobStore, locker, logger, admin.WithConfirmationExtractor(extractor)),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		WebhookLimiter:  app.limiter,
		HealthChecks:    healthChecks,
	})
	app.Ops = router.New(&router.Config{
		Logger:         logger,
		MetricsHandler: metricsHandler,
		HealthChecks:   healthChecks,
	})

	ok = true
	return app, nil
}

// Close stops background work and releases connections in reverse order.
func (a *App) Close() {
	if a == nil {
		return
	}
	select {
	case <-a.stop:
		return
	default:
		close(a.stop)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
