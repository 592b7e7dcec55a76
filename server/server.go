package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/dispatch"
	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/gstorage"
	"github.com/Daskott/deadman/server/lease"
	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/notify"
	"github.com/Daskott/deadman/server/scanner"
	"github.com/Daskott/deadman/server/store"
	"github.com/Daskott/deadman/server/twilio"
	"github.com/Daskott/deadman/server/work"
	"github.com/Daskott/deadman/shared"
	"github.com/go-redis/redis/v8"
)

var logg = logger.NewLogger()

type Server struct {
	config     *shared.ServerConfig
	devMode    bool
	dbFilePath string
	clock      clock.Clock

	store      *store.Store
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	scanner    *scanner.Scanner
	workers    *work.WorkerPoolAdapter
	storage    Blob
	redis      *redis.Client
	httpServer *http.Server
}

// Start runs the server until SIGINT or SIGTERM.
func Start(config *shared.ServerConfig, devMode bool) {
	server, err := New(config, configDirectory(devMode), devMode)
	fatalOnError(err)

	fatalOnError(server.Run())
}

// RunScan runs a single scan cycle against the configured database. It
// stops early on SIGINT or SIGTERM.
func RunScan(ctx context.Context, config *shared.ServerConfig, devMode bool) (scanner.CycleResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := New(config, configDirectory(devMode), devMode)
	if err != nil {
		return scanner.CycleResult{}, err
	}
	defer server.Close()

	return server.RunScanCycle(ctx)
}

// New opens the database and wires every component. Nothing runs until Run.
func New(config *shared.ServerConfig, rootDir string, devMode bool) (*Server, error) {
	ctx := context.Background()
	s := &Server{config: config, devMode: devMode}

	if config.Database.Driver == shared.SQLITE_DRIVER {
		dbFilePath, err := store.DbFilePath(rootDir)
		if err != nil {
			return nil, err
		}
		s.dbFilePath = dbFilePath
	}

	if config.Google.Storage.EnableSqliteBackupAndSync {
		gs, err := gstorage.NewGStorage(ctx,
			config.Google.ApplicationCredentials,
			config.Google.Storage.Bucket,
			config.Google.Storage.Prefix,
		)
		if err != nil {
			return nil, err
		}
		s.storage = gs

		if err := restoreSqliteDb(ctx, gs, s.dbFilePath); err != nil {
			return nil, fmt.Errorf("unable to restore sqlite db: %v", err)
		}
	}

	st, err := store.Open(config, rootDir)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		return nil, err
	}
	s.store = st

	clk := clock.Real{}
	s.clock = clk
	dispatcherConfig := config.Deadman.Dispatcher

	s.workers = work.NewWorkerAdapter(st, config.Deadman.Cron.TimeZone, dispatcherConfig.Concurrency)
	s.dispatcher = dispatch.New(st, s.workers, notify.NewRouter(s.channels()...), clk, dispatch.Options{
		MaxAttempts:    dispatcherConfig.MaxAttempts,
		AttemptTimeout: dispatcherConfig.AttemptTimeout,
		BackoffMin:     dispatcherConfig.BackoffMin,
		BackoffMax:     dispatcherConfig.BackoffMax,
	})
	s.engine = engine.New(st, clk, s.dispatcher)

	scannerOptions := scanner.Options{
		Interval: config.Deadman.Scanner.Interval,
		PageSize: config.Deadman.Scanner.PageSize,
		TimeZone: config.Deadman.Cron.TimeZone,
	}
	if config.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		scannerOptions.Lease = lease.New(s.redis, lease.DEFAULT_KEY, config.Redis.LeaseTTL)
	}
	s.scanner = scanner.New(s.engine, st, s.dispatcher, clk, scannerOptions)

	if err := s.registerJobHandlers(); err != nil {
		return nil, err
	}
	if err := s.enqueuePeriodicJobs(); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%v", config.Deadman.Listener.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts the workers, the scanner and the HTTP API, then blocks until
// the process is asked to stop.
func (s *Server) Run() error {
	if err := s.workers.Start(); err != nil {
		return err
	}
	if err := s.scanner.Start(); err != nil {
		return err
	}

	go serve(s.httpServer)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	s.cleanup()
	return nil
}

// RunScanCycle runs one scan cycle without starting anything else. The
// trigger events it enqueues are delivered by a running server.
func (s *Server) RunScanCycle(ctx context.Context) (scanner.CycleResult, error) {
	return s.scanner.RunCycle(ctx)
}

func (s *Server) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	return s.store.Close()
}

func (s *Server) channels() []notify.Channel {
	channels := []notify.Channel{}

	if s.config.Twilio.AccountSid != "" || s.devMode {
		channels = append(channels, notify.NewSMSChannel(twilio.NewClient(s.config.Twilio, s.config.Deadman.Dispatcher.AttemptTimeout, s.devMode)))
	}
	if s.config.Smtp.Host != "" {
		channels = append(channels, notify.NewEmailChannel(s.config.Smtp))
	}
	if s.config.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(s.config.Webhook))
	}

	if s.devMode {
		channels = append(channels, notify.LogChannel{})
	}

	if len(channels) == 0 {
		logg.Warn("No notification channel is configured, every delivery will fail")
	}
	return channels
}
