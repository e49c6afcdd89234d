package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/scheduler"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/garyjia/expense-approval/pkg/database"
)

// Container wires the expense approval service together. Start builds the
// components in dependency order and Close releases them in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	domain       *DomainBundle

	metrics    *metrics.Metrics
	tokens     port.TokenIssuer
	dispatcher dispatcher.Dispatcher
	lifecycle  workflow.ReportLifecycle
	services   *ServiceBundle
	scheduler  *scheduler.Scheduler
	server     *httpapi.Server

	// closers release started components, last started first
	closers []closer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

type closer struct {
	name  string
	close func() error
}

// RepositoryBundle groups the report, special review, user and audit log stores.
type RepositoryBundle struct {
	Reports        port.ReportRepository
	SpecialReviews port.SpecialReviewRepository
	Users          port.UserRepository
	AuditLogs      port.AuditLogRepository
}

// ServiceBundle groups the application services outside the lifecycle engine.
type ServiceBundle struct {
	Auth  service.AuthService
	Query service.QueryService
	Demo  service.DemoService
}

// HealthStatus is the per-component health report.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the health of one component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start opens the database, builds the domain, lifecycle and services,
// seeds the demo data, starts the scheduler and prepares the HTTP server.
// On failure everything already started is released.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	steps := []struct {
		name string
		run  func() error
	}{
		{"database", c.startDatabase},
		{"domain", c.startDomain},
		{"lifecycle", c.startLifecycle},
		{"services", c.startServices},
		{"scheduler", c.startScheduler},
		{"http server", c.startServer},
	}

	for _, step := range steps {
		started := time.Now()
		if err := step.run(); err != nil {
			c.logger.Error("Container step failed", zap.String("step", step.name), zap.Error(err))
			_ = c.release()
			c.cancel()
			return fmt.Errorf("failed to start %s: %w", step.name, err)
		}
		c.logger.Info("Container step ready",
			zap.String("step", step.name),
			zap.Duration("elapsed", time.Since(started)))
	}

	c.ready.Store(true)
	return nil
}

// Close releases every started component in reverse start order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)

	if c.cancel != nil {
		c.cancel()
	}

	if err := c.release(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, close: fn})
}

// release runs and clears the closers, newest first
func (c *Container) release() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Ready reports whether Start completed and Close has not been called.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health pings the database and reports which components are up.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{Overall: true, Components: map[string]ComponentHealth{}}
	mark := func(name string, err error, msg string) {
		h := ComponentHealth{Healthy: err == nil, Message: msg}
		if err != nil {
			h.Message = err.Error()
			status.Overall = false
		}
		status.Components[name] = h
	}
	missing := errors.New("not initialized")
	present := func(ok bool) error {
		if ok {
			return nil
		}
		return missing
	}

	dbErr := error(missing)
	if c.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		dbErr = c.database.PingContext(ctx)
		cancel()
	}
	mark("database", dbErr, "")
	mark("dispatcher", present(c.dispatcher != nil), "")
	mark("lifecycle", present(c.lifecycle != nil), "")

	nextReset := ""
	if c.scheduler != nil {
		if next := c.scheduler.NextRun(DemoResetJob); !next.IsZero() {
			nextReset = "next demo reset " + next.Format(time.RFC3339)
		}
	}
	mark("scheduler", present(c.scheduler != nil), nextReset)

	return status
}

func (c *Container) startDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database, c.db = bundle.DB, bundle.TransactionMgr
	c.onClose("database", c.database.Close)

	c.repositories, err = ProvideRepositories(bundle.SqlDB, c.logger)
	return err
}

func (c *Container) startDomain() error {
	domain, err := ProvideDomain(&c.config.Policy, &c.config.Approval)
	if err != nil {
		return err
	}
	c.domain = domain
	c.logger.Info("Approval chain configured", zap.Int("tiers", len(domain.Chain.Tiers)))
	return nil
}

// startLifecycle creates the metrics registry, the dispatcher and the
// lifecycle engine with its event subscribers
func (c *Container) startLifecycle() error {
	c.metrics = metrics.New()

	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.onClose("dispatcher", c.dispatcher.Close)

	c.lifecycle, err = ProvideLifecycle(&LifecycleDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Domain:     c.domain,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	return err
}

func (c *Container) startServices() error {
	tokens, err := ProvideTokens(&c.config.Auth)
	if err != nil {
		return err
	}
	c.tokens = tokens

	c.services, err = ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Domain:    c.domain,
		Tokens:    c.tokens,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}

	if !c.config.Demo.SeedOnStart {
		return nil
	}
	seeded, err := c.services.Demo.SeedIfEmpty(c.ctx)
	if err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	if seeded {
		c.logger.Info("Demo data seeded")
	}
	return nil
}

func (c *Container) startScheduler() error {
	sched, err := ProvideScheduler(&c.config.Demo, c.services.Demo, c.logger)
	if err != nil {
		return err
	}
	c.scheduler = sched
	c.scheduler.Start()
	c.onClose("scheduler", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.scheduler.Stop(ctx)
	})
	return nil
}

// startServer builds the router; cmd/server calls Server().Start to listen
func (c *Container) startServer() error {
	services := httpapi.Services{
		Lifecycle: c.lifecycle,
		Auth:      c.services.Auth,
		Queries:   c.services.Query,
		Users:     c.repositories.Users,
		Tokens:    c.tokens,
		Metrics:   c.metrics,
	}
	if c.config.Demo.ResetEnabled {
		services.Demo = c.services.Demo
	}

	c.server = httpapi.NewServer(c.config.Server, services, newKVLogger(c.logger, "http"))
	c.onClose("http server", c.server.Stop)
	return nil
}

// Repositories returns the stores.
func (c *Container) Repositories() *RepositoryBundle { return c.repositories }

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher { return c.dispatcher }

// Lifecycle returns the report lifecycle engine.
func (c *Container) Lifecycle() workflow.ReportLifecycle { return c.lifecycle }

// Services returns the application services.
func (c *Container) Services() *ServiceBundle { return c.services }

// Metrics returns the Prometheus collectors.
func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

// Server returns the HTTP server.
func (c *Container) Server() *httpapi.Server { return c.server }

// kvLogger adapts zap to the key/value Logger interfaces of the application
// and HTTP layers. Keys and values alternate as with zap's sugared logger.
type kvLogger struct {
	sugar *zap.SugaredLogger
}

func newKVLogger(logger *zap.Logger, name string) kvLogger {
	return kvLogger{sugar: logger.Named(name).Sugar()}
}

func (l kvLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l kvLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
