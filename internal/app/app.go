// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/internal/config"
	"github.com/law-makers/panelwatch/internal/diagnostics"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/internal/retry"
	"github.com/law-makers/panelwatch/internal/scheduler"
	"github.com/law-makers/panelwatch/internal/scrape"
	"github.com/law-makers/panelwatch/internal/server"
	"github.com/law-makers/panelwatch/internal/storage"
	"github.com/law-makers/panelwatch/internal/youtube"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once per CLI command. The database is opened on first use so
// that commands which only drive the browser (login, session) can run while a
// worker holds the database lock.
type Application struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	Sessions    *auth.Store
	Credentials *auth.CredentialStore
	Launcher    browser.Launcher
	Login       *auth.Manager
	YouTube     *youtube.Client
	Events      *queue.EventBus

	mu       sync.Mutex
	store    *storage.Store
	broker   *queue.BadgerBroker
	producer *queue.Producer
	scraper  *scrape.Scraper

	startTime time.Time
}

// New creates and initializes a new Application with all dependencies.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Creates the session store, keyring credential store and browser launcher
//   - Builds the login state machine and its manager
//   - Creates the video API client
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := configureLogging(cfg)

	sessions := auth.NewStore(cfg.SessionFile)
	launcher := browser.NewChromeLauncher(browser.Options{
		Channel:           cfg.BrowserChannel,
		ExecPath:          cfg.ChromePath,
		ProfileDir:        cfg.ProfileDir,
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		Locale:            cfg.Locale,
		Timezone:          cfg.Timezone,
		WindowWidth:       cfg.WindowWidth,
		WindowHeight:      cfg.WindowHeight,
		NavigationTimeout: cfg.NavigationTimeout,
	})

	flow, err := auth.NewFlow(auth.FlowOptions{
		AccountURL:        cfg.AccountURL,
		SignInURL:         cfg.SignInURL,
		FormWaitTimeout:   cfg.FormWaitTimeout,
		ManualWaitTimeout: cfg.ManualWaitTimeout,
	}, sessions, diagnostics.New(cfg.DebugDir))
	if err != nil {
		return nil, fmt.Errorf("failed to build login flow: %w", err)
	}
	logger.Debug().
		Str("session_file", cfg.SessionFile).
		Str("profile_dir", cfg.ProfileDir).
		Bool("headless", cfg.Headless).
		Msg("Login flow initialized")

	yt := youtube.New(youtube.Options{
		APIKey:            cfg.YouTubeAPIKey,
		BaseURL:           cfg.YouTubeAPIBase,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.YouTubeRPS,
		Burst:             cfg.YouTubeBurst,
		CacheTTL:          cfg.YouTubeCacheTTL,
		CacheMaxBytes:     cfg.CacheMaxSizeBytes,
		Retry:             retry.DefaultConfig(),
	})
	logger.Debug().
		Bool("api_key_set", yt.Configured()).
		Float64("rps", cfg.YouTubeRPS).
		Msg("Video API client initialized")

	app := &Application{
		Config:      cfg,
		Logger:      logger,
		Sessions:    sessions,
		Credentials: auth.NewCredentialStore(),
		Launcher:    launcher,
		Login:       auth.NewManager(launcher, flow, sessions, cfg.LoginAttempts),
		YouTube:     yt,
		Events:      queue.NewEventBus(),
		startTime:   time.Now(),
	}

	logger.Debug().Msg("Application initialized successfully")
	return app, nil
}

func configureLogging(cfg *config.Config) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logWriter io.Writer
	if cfg.JSONLog {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(logWriter).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	logger.Debug().
		Str("level", level.String()).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")
	return &logger
}

// open lazily opens the database and the queue on top of it
func (a *Application) open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return nil
	}

	store, err := storage.Open(a.Config.DBPath)
	if err != nil {
		return err
	}
	broker, err := queue.NewBadgerBroker(store.Badger(), queue.BrokerOptions{
		VisibilityTimeout: a.Config.VisibilityTimeout,
		MaxAttempts:       a.Config.JobMaxAttempts,
		Backoff:           a.Config.JobBackoff,
	})
	if err != nil {
		store.Close()
		return err
	}

	a.store = store
	a.broker = broker
	a.producer = queue.NewProducer(broker)
	a.scraper = scrape.New(a.YouTube, store, a.Login, scrape.Options{
		MaxVideos:         a.Config.MaxVideosPerScrape,
		BrowserFallback:   a.Config.BrowserFallback,
		FetchDescriptions: a.Config.FetchDescriptions,
		Diagnostics:       diagnostics.New(a.Config.DebugDir).WithPrefix(diagnostics.ScrapePrefix),
	})

	a.Logger.Debug().Str("path", a.Config.DBPath).Msg("Database and queue opened")
	return nil
}

// Store returns the document store, opening the database if needed
func (a *Application) Store() (*storage.Store, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return a.store, nil
}

// Broker returns the job queue
func (a *Application) Broker() (*queue.BadgerBroker, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return a.broker, nil
}

// Producer returns the validating job producer
func (a *Application) Producer() (*queue.Producer, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return a.producer, nil
}

// Scraper returns the channel scraper
func (a *Application) Scraper() (*scrape.Scraper, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return a.scraper, nil
}

// NewWorkerPool builds a worker pool with the scrape and login handlers registered
func (a *Application) NewWorkerPool() (*queue.WorkerPool, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	wp := queue.NewWorkerPool(a.broker, a.Events, queue.WorkerOptions{
		Concurrency:   a.Config.QueueConcurrency,
		PollInterval:  a.Config.QueuePollInterval,
		CourtesyDelay: a.Config.JobCourtesyDelay,
	})
	wp.RegisterHandler(queue.JobTypeScrape, ScrapeHandler(a.producer, a.scraper))
	wp.RegisterHandler(queue.JobTypeCheckLogin, LoginHandler(a.Login, a.Credentials))
	return wp, nil
}

// NewScheduler builds the periodic channel scheduler
func (a *Application) NewScheduler() (*scheduler.Scheduler, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	s := scheduler.New(a.store, a.producer)
	s.SetSpread(a.Config.ScrapeSpread)
	return s, nil
}

// NewServer builds the RPC server on the configured address
func (a *Application) NewServer() (*server.Server, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return server.New(a.Config.ServerAddr, server.Deps{
		Login:       a.Login,
		Queue:       a.producer,
		Sessions:    a.Sessions,
		Credentials: a.Credentials,
		Events:      a.Events,
	}), nil
}

// Close gracefully shuts down the application and all its resources.
//
// It performs the following cleanup steps in order:
//   - Closes the video API client and its cache
//   - Closes the database, if it was opened
//
// Any errors during shutdown are logged but do not prevent other shutdown steps.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Debug().Msg("Shutting down application")

	if a.YouTube != nil {
		a.YouTube.Close()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var closeErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing database")
			closeErr = err
		}
		a.store = nil
	}

	a.Logger.Debug().Dur("uptime", time.Since(a.startTime)).Msg("Application shutdown complete")
	return closeErr
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
