package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hydroforecast/apiserver/config"
	"github.com/hydroforecast/apiserver/internal/archive"
	"github.com/hydroforecast/apiserver/internal/db"
	"github.com/hydroforecast/apiserver/internal/handlers"
	"github.com/hydroforecast/apiserver/internal/mq"
	"github.com/hydroforecast/apiserver/internal/observability"
	"github.com/hydroforecast/apiserver/internal/poller"
	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/internal/session"
	"github.com/hydroforecast/apiserver/internal/store"
	"github.com/hydroforecast/apiserver/internal/weather"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server, router, and background components.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	poller     *poller.Poller
	logger     *slog.Logger

	pollerCancel context.CancelFunc
	pollerDone   chan struct{}
	shutdownOnce sync.Once
}

// New wires the full application: database, repositories, services, optional
// alert broker and archive backend, HTTP routes, and the forecast poller.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	logger := observability.NewLogger(cfg.Log)
	metrics := observability.NewMetrics()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	tankRepo := store.NewTankRepository(dbConn)
	logRepo := store.NewTankLogRepository(dbConn)

	broker, alerter, err := buildAlerter(ctx, cfg, logger)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	archiver, err := buildArchiver(ctx, cfg, logger)
	if err != nil {
		if broker != nil {
			_ = broker.Close()
		}
		_ = dbConn.Close()
		return nil, err
	}

	userService := services.NewUserService(userRepo)
	tankService := services.NewTankService(tankRepo, cfg.Tanks.DefaultHeightMeters)
	logService := services.NewTankLogService(logRepo, tankRepo, alerter, archiver, metrics, logger)

	issuer := session.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authMiddleware := handlers.RequireAuth(issuer)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, issuer)
	})
	router.Route("/tanks", func(r chi.Router) {
		handlers.TankRouter(r, tankService, authMiddleware)
	})
	router.Route("/tanklogs", func(r chi.Router) {
		handlers.TankLogRouter(r, logService, authMiddleware)
	})

	var forecastPoller *poller.Poller
	if cfg.Poller.Enabled {
		weatherClient := weather.NewClient(cfg.Poller.APIKey, cfg.Poller.BaseURL, cfg.Poller.FetchTimeout)
		forecastPoller = poller.New(weatherClient, tankService, logService, logger, metrics, poller.Options{
			Interval:     cfg.Poller.Interval,
			FetchTimeout: cfg.Poller.FetchTimeout,
			Latitude:     cfg.Poller.Latitude,
			Longitude:    cfg.Poller.Longitude,
		})
	} else {
		logger.Info("forecast poller disabled")
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
		poller:     forecastPoller,
		logger:     logger,
	}, nil
}

// buildAlerter constructs the configured broker backend, or nothing when
// alerting is disabled. The interface stays nil unless a broker exists.
func buildAlerter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*mq.MQ, services.Alerter, error) {
	var backend mq.Backend
	var err error

	switch cfg.Alerts.Backend {
	case "":
		return nil, nil, nil
	case "rabbitmq":
		backend, err = mq.NewRabbitMQClient(cfg.Alerts.RabbitMQ)
	case "pubsub":
		backend, err = mq.NewPubSubClient(ctx, cfg.Alerts.PubSub)
	default:
		return nil, nil, fmt.Errorf("unknown alert backend %q", cfg.Alerts.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect alert broker: %w", err)
	}

	broker := mq.New(backend)
	logger.Info("alert publishing enabled", "backend", cfg.Alerts.Backend, "channel", cfg.Alerts.Channel)
	return broker, services.NewAlertPublisher(broker, cfg.Alerts.Channel), nil
}

// buildArchiver constructs the configured object-storage backend, or nothing
// when archiving is disabled.
func buildArchiver(ctx context.Context, cfg config.Config, logger *slog.Logger) (services.LogArchiver, error) {
	var storage archive.ObjectStorage
	var err error

	switch cfg.Archive.Backend {
	case "":
		return nil, nil
	case "minio":
		storage, err = archive.NewMinioClient(cfg.Archive.Minio)
	case "gcs":
		storage, err = archive.NewGCSClient(ctx, cfg.Archive.GCS)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect archive storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("prepare archive bucket: %w", err)
	}

	logger.Info("log archiving enabled", "backend", cfg.Archive.Backend)
	return archive.NewArchiver(storage), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the forecast poller and the HTTP server. It blocks until the
// server stops.
func (s *Server) Start() error {
	if s.poller != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.pollerCancel = cancel
		s.pollerDone = make(chan struct{})
		go func() {
			defer close(s.pollerDone)
			if err := s.poller.Run(ctx); err != nil {
				s.logger.Error("forecast poller exited", "error", err)
			}
		}()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the poller, drains the HTTP server, and closes connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.pollerCancel != nil {
			s.pollerCancel()
			select {
			case <-s.pollerDone:
			case <-ctx.Done():
			}
		}

		err = s.httpServer.Shutdown(ctx)

		if s.broker != nil {
			_ = s.broker.Close()
		}
		if s.db != nil {
			_ = s.db.Close()
		}
	})
	return err
}
