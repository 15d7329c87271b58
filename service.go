package peon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/admin"
	"github.com/evan-idocoding/peon/internal/config"
	"github.com/evan-idocoding/peon/internal/journal"
	"github.com/evan-idocoding/peon/internal/logger"
	"github.com/evan-idocoding/peon/internal/workload"
	"github.com/evan-idocoding/peon/ops"
	"github.com/evan-idocoding/peon/rt/safego"
	"github.com/evan-idocoding/peon/rt/task"
)

var (
	// ErrAlreadyStarted is returned when Start or Run is called more than once.
	ErrAlreadyStarted = errors.New("peon: service already started")
	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("peon: service not started")
)

// Spec describes a Service. Only Config is required.
type Spec struct {
	Config *config.Config

	// Logger replaces the logger built from Config.Log. Its lifecycle stays with the caller.
	Logger *logrus.Logger

	// Registry replaces the registry built from Config.Tasks and Config.Starters.
	Registry *task.Registry

	// Executor replaces the default task.Loop consumer context.
	Executor task.Executor

	// Listeners are added before the orchestrator accepts tasks.
	Listeners []task.Listener

	Signals SignalSpec
	Hooks   Hooks
}

// SignalSpec controls signal handling in Run.
type SignalSpec struct {
	Disable bool
	// Signals defaults to SIGINT and SIGTERM on unix, os.Interrupt elsewhere.
	Signals []os.Signal
}

// Hooks integrate caller resources into the service lifecycle.
type Hooks struct {
	// OnStart runs sequentially before the admin server starts. An error fails Start.
	OnStart []func(context.Context) error
	// OnShutdown runs sequentially after tasks have stopped; errors are aggregated.
	OnShutdown []func(context.Context) error
}

// Service hosts an orchestrator with its journal and admin server.
type Service struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Registry     *task.Registry
	Orchestrator *task.Orchestrator

	// Journal is nil when disabled in Config.
	Journal *journal.Journal

	// Admin and AdminServer are nil when disabled in Config.
	Admin       *gin.Engine
	AdminServer *http.Server

	// ReadTokens and WriteTokens back the admin guards; ApplyConfig updates them.
	ReadTokens  *admin.TokenSet
	WriteTokens *admin.TokenSet

	hooks     Hooks
	signals   SignalSpec
	logCloser io.Closer

	mu       sync.Mutex
	started  bool
	stopping bool
	listener net.Listener
	stopErr  error

	shutdownOnce sync.Once
	doneCh       chan struct{}
	waitErr      error
}

// NewService assembles a Service. It builds the logger, registry and journal from spec.Config
// unless the spec provides them; the journal file is opened and migrated here.
func NewService(spec Spec) (*Service, error) {
	if spec.Config == nil {
		return nil, errors.New("peon: nil Config")
	}
	cfg := spec.Config
	s := &Service{
		Config:      cfg,
		hooks:       spec.Hooks,
		signals:     spec.Signals,
		doneCh:      make(chan struct{}),
		ReadTokens:  admin.NewTokenSet(cfg.Admin.ReadTokens...),
		WriteTokens: admin.NewTokenSet(cfg.Admin.WriteTokens...),
	}
	if err := s.assemble(spec); err != nil {
		_ = s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Service) assemble(spec Spec) error {
	cfg := s.Config
	var err error

	s.Logger = spec.Logger
	if s.Logger == nil {
		s.Logger, s.logCloser, err = logger.New(cfg.Log)
		if err != nil {
			return err
		}
	}

	s.Registry = spec.Registry
	if s.Registry == nil {
		s.Registry, err = workload.Registry(cfg.Tasks, cfg.Starters)
		if err != nil {
			return err
		}
	}

	opts := []task.Option{task.WithRegistry(s.Registry), task.WithLogger(s.Logger)}
	if spec.Executor != nil {
		opts = append(opts, task.WithExecutor(spec.Executor))
	}
	for _, l := range spec.Listeners {
		opts = append(opts, task.WithListener(l))
	}

	if cfg.Journal.Enabled {
		s.Journal, err = journal.Open(cfg.Journal.Path,
			journal.WithLogger(s.Logger),
			journal.WithBuffer(cfg.Journal.Buffer),
		)
		if err != nil {
			return err
		}
		opts = append(opts, task.WithListener(s.Journal))
	}

	s.Orchestrator = task.NewOrchestrator(opts...)

	if cfg.Admin.Enabled {
		s.Admin = s.assembleAdmin()
		s.AdminServer = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           s.Admin,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return nil
}

func (s *Service) assembleAdmin() *gin.Engine {
	header := s.Config.Admin.TokenHeader
	write := admin.Tokens(header, s.WriteTokens)
	read := admin.Any(admin.Tokens(header, s.ReadTokens), write)
	o := s.Orchestrator

	opts := []admin.Option{
		admin.WithLogger(s.Logger),
		admin.EnableHealthz(admin.HealthzSpec{Guard: admin.AllowAll()}),
		admin.EnableReadyz(admin.ReadyzSpec{Guard: admin.AllowAll(), Checks: s.readyChecks()}),
		admin.EnableReport(admin.ReportSpec{Guard: read}),
		admin.EnableBuildInfo(admin.BuildInfoSpec{Guard: read}),
		admin.EnableRuntime(admin.RuntimeSpec{Guard: read}),
		admin.EnableLogLevelGet(admin.LogLevelSpec{Guard: read, Logger: s.Logger}),
		admin.EnableTaskTypes(admin.TaskTypesSpec{Guard: read, Registry: s.Registry}),
		admin.EnableTasksSnapshot(admin.TasksSpec{Guard: read, Orchestrator: o}),
		admin.EnableTaskBlocking(admin.TasksSpec{Guard: read, Orchestrator: o}),

		admin.EnableLogLevelSet(admin.LogLevelSpec{Guard: write, Logger: s.Logger}),
		admin.EnableTaskSubmit(admin.TaskSubmitSpec{Guard: write, Orchestrator: o, AllowAllTypes: true}),
		admin.EnableTaskCancel(admin.TasksSpec{Guard: write, Orchestrator: o}),
	}
	if s.Journal != nil {
		opts = append(opts, admin.EnableHistory(admin.HistorySpec{Guard: read, Source: s.Journal}))
	}
	return admin.New(opts...)
}

func (s *Service) readyChecks() []ops.ReadyCheck {
	checks := []ops.ReadyCheck{{
		Name: "orchestrator",
		Func: func(context.Context) error {
			if s.Orchestrator.Closed() {
				return task.ErrClosed
			}
			return nil
		},
	}}
	if s.Journal != nil {
		checks = append(checks, ops.ReadyCheck{Name: "journal", Func: s.Journal.Ping, Timeout: time.Second})
	}
	return checks
}

// ApplyConfig applies the parts of cfg that can change at runtime: log level, caller
// reporting and admin tokens. Everything else needs a restart.
func (s *Service) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("peon: nil Config")
	}
	s.ReadTokens.Update(cfg.Admin.ReadTokens)
	s.WriteTokens.Update(cfg.Admin.WriteTokens)
	return logger.Apply(s.Logger, cfg.Log)
}

// AdminAddr returns the bound admin address once started, or nil.
func (s *Service) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the service and blocks until ctx ends, a signal arrives, or the admin server
// fails; it then shuts down and returns the combined error.
//
// It is not idempotent: a second call returns ErrAlreadyStarted.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Start(ctx); err != nil {
		if !errors.Is(err, ErrAlreadyStarted) {
			_ = s.Wait()
		}
		return err
	}
	sigCh, stopSignals := s.watchSignals()
	defer stopSignals()

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		s.Logger.Info("peon: context done, shutting down")
		_ = s.Shutdown(context.Background())
	case sig := <-sigCh:
		s.Logger.WithField("signal", sig.String()).Info("peon: signal received, shutting down")
		_ = s.Shutdown(context.Background())
	}
	return s.Wait()
}

// Start runs the OnStart hooks and starts the admin server. It is not idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	for i, h := range s.hooks.OnStart {
		if h == nil {
			continue
		}
		if err := safeCallHook(ctx, h); err != nil {
			err = fmt.Errorf("peon: OnStart[%d]: %w", i, err)
			s.recordErr(err)
			s.initiateShutdown()
			return err
		}
	}

	if s.AdminServer != nil {
		if err := s.startAdmin(); err != nil {
			s.recordErr(err)
			s.initiateShutdown()
			return err
		}
	}
	s.Logger.WithField("types", len(s.Registry.Types())).Info("peon: started")
	return nil
}

func (s *Service) startAdmin() error {
	ln, err := net.Listen("tcp", s.AdminServer.Addr)
	if err != nil {
		return fmt.Errorf("peon: admin listen %q: %w", s.AdminServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.Logger.WithField("addr", ln.Addr().String()).Info("peon: admin listening")

	safego.Go(context.Background(), func(context.Context) {
		s.onServeExit(s.AdminServer.Serve(ln))
	}, safego.WithName("peon.admin"), safego.WithLogger(s.Logger))
	return nil
}

func (s *Service) onServeExit(err error) {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return
	}
	s.Logger.WithError(err).Error("peon: admin server failed")
	s.recordErr(fmt.Errorf("peon: admin server: %w", err))
	s.initiateShutdown()
}

// Wait blocks until shutdown completes. It returns ErrNotStarted before Start.
func (s *Service) Wait() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Shutdown stops the service and waits for it, up to ctx. It is idempotent and safe to call
// before Start, in which case only the resources opened by NewService are released.
//
// Order: stop accepting admin requests, cancel active tasks and wait for DONE (bounded by
// Config.ShutdownTimeout), run OnShutdown hooks, close the journal after its queue drains.
func (s *Service) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.initiateShutdown()
	select {
	case <-s.doneCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		safego.Go(context.Background(), func(context.Context) { s.doShutdown() },
			safego.WithName("peon.shutdown"), safego.WithLogger(s.Logger))
	})
}

func (s *Service) doShutdown() {
	s.mu.Lock()
	s.stopping = true
	ln := s.listener
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if ln != nil {
		if err := s.AdminServer.Shutdown(ctx); err != nil {
			_ = s.AdminServer.Close()
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
		_ = ln.Close()
	}

	if err := s.Orchestrator.Shutdown(ctx); err != nil {
		s.Logger.WithError(err).Warn("peon: tasks did not stop in time")
		errs = append(errs, fmt.Errorf("tasks shutdown: %w", err))
	}

	for i, h := range s.hooks.OnShutdown {
		if h == nil {
			continue
		}
		if err := safeCallHook(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("OnShutdown[%d]: %w", i, err))
		}
	}

	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	stopErr := errors.Join(errs...)
	if stopErr != nil {
		s.Logger.WithError(stopErr).Warn("peon: stopped with errors")
	} else {
		s.Logger.Info("peon: stopped")
	}
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}

	s.mu.Lock()
	s.stopErr = stopErr
	s.waitErr = errors.Join(s.waitErr, stopErr)
	s.mu.Unlock()
	close(s.doneCh)
}

func (s *Service) closeResources() error {
	var errs []error
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.logCloser != nil {
		if err := s.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) recordErr(err error) {
	s.mu.Lock()
	if s.waitErr == nil {
		s.waitErr = err
	}
	s.mu.Unlock()
}

func (s *Service) watchSignals() (<-chan os.Signal, func()) {
	if s.signals.Disable {
		return nil, func() {}
	}
	sigs := s.signals.Signals
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	return ch, func() { signal.Stop(ch) }
}

func safeCallHook(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
