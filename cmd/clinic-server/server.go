package main

import (
	"context"
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/clinical"
	"github.com/clinic/clinic/internal/domain/directory"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/internal/platform/validate"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// devMedicationID is the catalog entry seeded for the in-memory store.
const devMedicationID = "00000000-0000-0000-0000-00000000a001"

const shutdownTimeout = 10 * time.Second

// app is the assembled server: HTTP routes plus the background
// notification dispatcher.
type app struct {
	echo       *echo.Echo
	scheduling *scheduling.Service
	clinical   *clinical.Service
	dispatcher *notification.Dispatcher
	hub        *websocket.Hub
	metrics    *telemetry.Metrics
	// memDir is set only for the in-memory store.
	memDir *directory.Memory

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	schedules     scheduling.ScheduleRepository
	appointments  scheduling.AppointmentRepository
	records       clinical.RecordRepository
	treatments    clinical.TreatmentRepository
	prescriptions clinical.PrescriptionRepository
	dir           interface {
		scheduling.Directory
		clinical.MedicationCatalog
	}
	health echo.HandlerFunc
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		schedules:     scheduling.NewScheduleRepoPG(pool),
		appointments:  scheduling.NewAppointmentRepoPG(pool),
		records:       clinical.NewRecordRepoPG(pool),
		treatments:    clinical.NewTreatmentRepoPG(pool),
		prescriptions: clinical.NewPrescriptionRepoPG(pool),
		dir:           directory.NewPG(pool),
		health:        db.PoolHealthHandler(pool),
	}
}

type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }

func memoryStores(dir *directory.Memory) stores {
	clin := clinical.NewMemoryStore()
	return stores{
		schedules:     scheduling.NewMemoryScheduleRepo(),
		appointments:  scheduling.NewMemoryAppointmentRepo(),
		records:       clin.Records(),
		treatments:    clin.Treatments(),
		prescriptions: clin.Prescriptions(),
		dir:           dir,
		health:        db.HealthHandler(memoryPinger{}, nil),
	}
}

// resolveSigningKey returns the configured HS256 key, or a random one when
// none is set. A random key means tokens do not survive a restart.
func resolveSigningKey(value string) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{}

	var st stores
	switch cfg.Storage {
	case config.StorageMemory:
		a.memDir = directory.NewMemory()
		devUser := uuid.MustParse(auth.DevUserID)
		a.memDir.Add(directory.KindDoctor, devUser)
		a.memDir.Add(directory.KindPatient, devUser)
		a.memDir.Add(directory.KindMedication, uuid.MustParse(devMedicationID))
		st = memoryStores(a.memDir)
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
	default:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		st = postgresStores(pool)
		logger.Info().Msg("connected to database")
	}

	a.scheduling = scheduling.NewService(st.schedules, st.appointments, st.dir, loc, cfg.SlotGranularityMinutes)
	a.scheduling.SetLogger(logger)
	a.clinical = clinical.NewService(st.records, st.treatments, st.prescriptions, a.scheduling, st.dir)
	a.clinical.SetLogger(logger)

	a.hub = websocket.NewHub(logger)
	sinks, closeSinks, err := notification.BuildSinks(ctx, notification.SinkConfig{
		Names:         cfg.NotifySinks,
		KafkaBrokers:  cfg.KafkaBrokers,
		KafkaTopic:    cfg.KafkaTopic,
		SQSQueueURL:   cfg.SQSQueueURL,
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
	}, logger, a.hub)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := closeSinks(); err != nil {
			logger.Warn().Err(err).Msg("close notification sinks")
		}
	})
	a.metrics = telemetry.NewMetrics()
	sinks = append(sinks, notification.NewMetricsSink(a.metrics))
	a.dispatcher = notification.NewDispatcher(notification.Config{QueueSize: cfg.NotifyQueueSize}, logger, sinks...)
	a.scheduling.SetNotifier(a.dispatcher)
	logger.Info().Strs("sinks", a.dispatcher.SinkNames()).Msg("notification sinks ready")

	key, random, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		a.close()
		return nil, err
	}
	if random {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; generated a random key, issued tokens will not survive a restart")
	}
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.IsDev() {
		logger.Warn().Str("user_id", auth.DevUserID).Msg("development mode: requests without a token act as admin")
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"storage":       cfg.Storage,
			"notifications": a.dispatcher.Stats(),
		})
	})
	e.GET("/health/db", st.health)
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	clinical.NewHandler(a.clinical).RegisterRoutes(apiV1)
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	a.echo = e
	return a, nil
}

// errorKinds names the errors raised outside the domain packages.
var errorKinds = map[int]string{
	http.StatusBadRequest:            "invalid_argument",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusServiceUnavailable:    "unavailable",
}

// errorHandler renders every error as an apperr.Body so clients see one
// error shape.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = apperr.ToHTTP(err)
		}

		body, ok := he.Message.(apperr.Body)
		if !ok {
			kind, known := errorKinds[he.Code]
			if !known {
				kind = "internal"
			}
			msg := fmt.Sprint(he.Message)
			if he.Code >= http.StatusInternalServerError {
				msg = http.StatusText(he.Code)
			}
			body = apperr.Body{Error: kind, Message: msg}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.close()

	// The dispatcher outlives the HTTP server so events from in-flight
	// requests are still delivered during shutdown.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	var dispatch errgroup.Group
	dispatch.Go(func() error { return a.dispatcher.Run(dispatchCtx) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.echo.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stopDispatch()
	if derr := dispatch.Wait(); derr != nil && !errors.Is(derr, context.Canceled) {
		logger.Warn().Err(derr).Msg("notification dispatcher stopped")
	}
	stats := a.dispatcher.Stats()
	logger.Info().Interface("notifications", stats).Msg("server stopped")
	return err
}
