package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/auth"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/scheduler"
	"github.com/garyjia/expense-approval/pkg/database"
)

// DemoResetJob names the scheduled demo reset
const DemoResetJob = "demo-reset"

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// DomainBundle holds the policy evaluator and approval chain.
type DomainBundle struct {
	Policy    *policy.Config
	Evaluator *policy.Evaluator
	Chain     domainwf.ApprovalChain
}

// ProvideDatabase opens the database, applies the embedded migrations
// and wraps the connection in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.Open(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &DatabaseBundle{
		DB:             db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Reports:        repository.NewReportRepository(sqlDB, logger),
		SpecialReviews: repository.NewSpecialReviewRepository(sqlDB, logger),
		Users:          repository.NewUserRepository(sqlDB, logger),
		AuditLogs:      repository.NewAuditLogRepository(sqlDB, logger),
	}, nil
}

// ProvideDomain builds the policy evaluator and the approval chain.
func ProvideDomain(policyCfg *PolicyConfig, approvalCfg *ApprovalConfig) (*DomainBundle, error) {
	caps, aliases := policy.DefaultCaps(), policy.DefaultAliases()
	if policyCfg != nil && len(policyCfg.Caps) > 0 {
		caps, aliases = policyCfg.Caps, policyCfg.Aliases
	}

	policyConfig, err := policy.NewConfig(caps, aliases)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	chain := domainwf.DefaultChain()
	if approvalCfg != nil {
		chain = chain.WithCEOTier(approvalCfg.CEOThreshold)
	}
	if err := chain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid approval chain: %w", err)
	}

	return &DomainBundle{
		Policy:    policyConfig,
		Evaluator: policy.NewEvaluator(policyConfig),
		Chain:     chain,
	}, nil
}

// ProvideDispatcher creates the event dispatcher with a zap logger adapter.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(dispatcher.WithLogger(newKVLogger(logger, "dispatcher"))), nil
}

// LifecycleDeps holds dependencies for creating the report lifecycle.
type LifecycleDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Domain     *DomainBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// ProvideLifecycle creates the report lifecycle engine and registers
// the event subscribers.
func ProvideLifecycle(deps *LifecycleDeps) (workflow.ReportLifecycle, error) {
	if deps == nil || deps.Repos == nil || deps.Domain == nil {
		return nil, fmt.Errorf("lifecycle dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(newKVLogger(deps.Logger, "lifecycle")),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	engine, err := workflow.NewEngine(
		workflow.Repositories{
			Reports:        deps.Repos.Reports,
			SpecialReviews: deps.Repos.SpecialReviews,
			Users:          deps.Repos.Users,
			AuditLogs:      deps.Repos.AuditLogs,
		},
		deps.TxManager,
		deps.Domain.Evaluator,
		deps.Domain.Chain,
		opts...,
	)
	if err != nil {
		return nil, err
	}

	if deps.Dispatcher != nil {
		registerEventHandlers(deps.Dispatcher, deps.Metrics, deps.Logger)
	}

	return engine, nil
}

// registerEventHandlers subscribes the metrics recorder and the activity log
func registerEventHandlers(d dispatcher.Dispatcher, m *metrics.Metrics, logger *zap.Logger) {
	if m != nil {
		d.SubscribeAll("metrics", m.HandleEvent)
	}
	d.SubscribeAll("activity-log", activityLogger(logger.Named("activity").Sugar()))
}

// activityLogger writes one structured line per domain event
func activityLogger(logger *zap.SugaredLogger) dispatcher.Handler {
	return func(_ context.Context, evt *event.Event) error {
		kv := []interface{}{
			"event_id", evt.ID,
			"type", evt.Type.String(),
			"report_id", evt.ReportID,
			"actor_id", evt.ActorID,
		}
		if evt.CorrelationID != "" {
			kv = append(kv, "correlation_id", evt.CorrelationID)
		}
		for k, v := range evt.Payload {
			kv = append(kv, k, v)
		}
		logger.Infow("Report activity", kv...)
		return nil
	}
}

// ServiceDeps holds dependencies for creating application services.
type ServiceDeps struct {
	Repos *RepositoryBundle
	// TxManager also serves as the demo data resetter
	TxManager *sqlite.DB
	Domain    *DomainBundle
	Tokens    port.TokenIssuer
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil || deps.Domain == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapter := newKVLogger(deps.Logger, "service")
	txManager := deps.TxManager

	return &ServiceBundle{
		Auth: service.NewAuthService(deps.Repos.Users, deps.Tokens, adapter),
		Query: service.NewQueryService(
			deps.Repos.Reports,
			deps.Repos.Users,
			deps.Domain.Evaluator,
			deps.Domain.Chain,
			adapter,
		),
		Demo: service.NewDemoService(
			service.DemoStores{
				Reports:        deps.Repos.Reports,
				SpecialReviews: deps.Repos.SpecialReviews,
				Users:          deps.Repos.Users,
				AuditLogs:      deps.Repos.AuditLogs,
			},
			txManager,
			txManager,
			deps.Domain.Evaluator,
			nil,
			adapter,
		),
	}, nil
}

// ProvideTokens creates the JWT service. It returns nil when no signing key is configured.
func ProvideTokens(cfg *AuthConfig) (port.TokenIssuer, error) {
	if cfg == nil || cfg.SigningKey == "" {
		return nil, nil
	}

	tokens, err := auth.NewJWTService(cfg.SigningKey, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}
	return tokens, nil
}

// ProvideScheduler creates the scheduler and registers the recurring demo reset.
// The scheduler is returned unstarted.
func ProvideScheduler(cfg *DemoConfig, demo service.DemoService, logger *zap.Logger) (*scheduler.Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("demo config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sched := scheduler.New(cfg.Location, logger.Named("scheduler"))
	if cfg.ResetSchedule == "" {
		return sched, nil
	}

	if demo == nil {
		return nil, fmt.Errorf("demo service is required for a scheduled reset")
	}
	if err := sched.Add(DemoResetJob, cfg.ResetSchedule, demo.Reset); err != nil {
		return nil, err
	}
	return sched, nil
}
