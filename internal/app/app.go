package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"fraudguard/internal/config"
	"fraudguard/internal/dispute"
	"fraudguard/internal/errors"
	"fraudguard/internal/evidence"
	"fraudguard/internal/identity"
	"fraudguard/internal/metrics"
	"fraudguard/internal/notify"
	"fraudguard/internal/oracle"
	"fraudguard/internal/output"
	"fraudguard/internal/retry"
	"fraudguard/internal/shutdown"
	"fraudguard/internal/storage"
	"fraudguard/internal/transaction"
	"fraudguard/internal/validation"
)

// App 按配置装配好的服务集合
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	ErrorHandler *errors.ErrorHandler
	Validator    *validation.Validator
	Metrics      *metrics.Collector
	Transactions transaction.Repository
	Evidence     *evidence.LocalStore
	Lifecycle    *dispute.Lifecycle
	Analyzer     *oracle.Analyzer
	Feed         *notify.Feed
	Committer    *identity.Committer
	Output       output.Output

	db      *storage.DB
	closers []closer
}

type closer struct {
	name  string
	order int
	fn    func(ctx context.Context) error
}

// Build 按配置创建全部服务，失败时释放已打开的资源
func Build(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:       cfg,
		Logger:       logger,
		ErrorHandler: errors.NewErrorHandler(logger),
		Validator:    validation.NewValidator(logger, false),
		Metrics:      metrics.NewCollector(),
		Feed:         notify.NewFeed(cfg.Notifications.Capacity),
		Committer:    identity.NewCommitter(),
	}
	if err := a.build(); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config
	if cfg.Storage.Driver == "bolt" {
		db, err := storage.Open(cfg.Storage.Path, a.Logger)
		if err != nil {
			return err
		}
		a.db = db
		a.addCloser("bbolt", shutdown.OrderCloseStores, func(context.Context) error { return db.Close() })
	}

	if err := a.buildTransactions(); err != nil {
		return err
	}

	out, err := output.NewOutput(cfg.Output, a.Logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	a.Output = out
	a.addCloser("output", shutdown.OrderFlushOutputs, func(context.Context) error { return out.Close() })
	sink := output.NewSink(out, a.ErrorHandler, a.Logger)

	projector := notify.NewProjector(a.Feed, a.Logger, sink)
	a.registerAlerts(projector)

	a.Evidence, err = evidence.NewLocalStore(cfg.Evidence.StorageDir, cfg.Evidence.MaxUploadSize, a.Logger)
	if err != nil {
		return err
	}

	if err := a.buildLifecycle(projector, sink); err != nil {
		return err
	}
	return a.buildAnalyzer(projector, sink)
}

func (a *App) addCloser(name string, order int, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, order: order, fn: fn})
}

func (a *App) buildTransactions() error {
	cfg := a.Config.Transactions
	switch cfg.Source {
	case "postgres":
		// 数据库可能比服务晚就绪，连接拒绝类错误按退避重试
		retrier := retry.NewRetrier(retry.DefaultRetryConfig(), a.Logger)
		repo, err := retry.Do(context.Background(), retrier, "连接交易数据库", func() (*transaction.PostgresRepository, error) {
			return transaction.NewPostgresRepository(cfg.DSN, a.Validator, a.Logger)
		})
		if err != nil {
			return err
		}
		repo.SetLimits(cfg.DefaultLimit, cfg.MaxLimit)
		a.Transactions = repo
		a.addCloser("postgres", shutdown.OrderCloseStores, func(context.Context) error { return repo.Close() })
	default:
		repo := transaction.NewMemoryRepository(a.Validator, a.Logger)
		repo.SetLimits(cfg.DefaultLimit, cfg.MaxLimit)
		if cfg.FixturesPath != "" {
			n, err := repo.LoadFixtures(cfg.FixturesPath)
			if err != nil {
				return err
			}
			a.Logger.Infof("已加载 %d 笔交易样例数据", n)
		}
		a.Transactions = repo
	}
	return nil
}

// AlertedErrorTypes 会在通知中心产生告警的基础设施错误类型
var AlertedErrorTypes = []errors.ErrorType{
	errors.ErrorTypeOracleUnavailable,
	errors.ErrorTypeKafka,
	errors.ErrorTypeStorage,
}

// registerAlerts 基础设施错误在记录日志之外推送危险通知
func (a *App) registerAlerts(projector *notify.Projector) {
	strategy := errors.NewCompositeStrategy(
		errors.NewLoggingStrategy(a.Logger),
		errors.NewAlertStrategy(projector.AlertSystemError, a.Logger),
	)
	for _, errorType := range AlertedErrorTypes {
		a.ErrorHandler.SetStrategy(errorType, strategy)
	}
}

func (a *App) buildLifecycle(projector *notify.Projector, sink *output.Sink) error {
	refValidator, err := evidence.NewValidator(a.Config.Evidence.Validator)
	if err != nil {
		return err
	}

	var store dispute.Store = dispute.NewMemoryStore()
	if a.db != nil {
		store = dispute.NewBoltStore(a.db)
	}

	policy := dispute.Policy{
		MinEvidence:     a.Config.Dispute.MinEvidence,
		Quorum:          a.Config.Dispute.Quorum,
		AutoStartVoting: a.Config.Dispute.AutoStartVoting,
		AutoResolve:     a.Config.Dispute.AutoResolve,
	}
	a.Lifecycle, err = dispute.NewLifecycle(store, dispute.NewLedger(store, refValidator), a.Transactions, policy, a.Logger,
		dispute.WithEventSinks(projector, sink, a.Metrics))
	return err
}

func (a *App) buildAnalyzer(projector *notify.Projector, sink *output.Sink) error {
	cfg := a.Config.Oracle

	var results oracle.ResultStore = oracle.NewMemoryResultStore()
	if a.db != nil {
		results = oracle.NewBoltResultStore(a.db)
	}

	opts := []oracle.AnalyzerOption{
		oracle.WithWorkers(cfg.Workers),
		oracle.WithAnalysisSinks(projector, sink, a.Metrics),
		oracle.WithFeedbackSinks(sink, a.Metrics),
		oracle.WithCallObserver(a.Metrics),
		oracle.WithErrorHandler(a.ErrorHandler),
	}
	if cfg.Enabled {
		client, err := oracle.NewHTTPOracle(oracle.HTTPConfig{
			URL:         cfg.URL,
			APIKey:      cfg.APIKey,
			Timeout:     cfg.Timeout,
			RateLimit:   cfg.RateLimit,
			Burst:       cfg.Burst,
			MaxAttempts: cfg.MaxAttempts,
		}, a.Logger)
		if err != nil {
			return err
		}
		opts = append(opts, oracle.WithOracle(client, cfg.Timeout))
	} else {
		a.Logger.Warn("未启用评分服务，所有分析结果将由降级策略生成")
	}

	a.Analyzer = oracle.NewAnalyzer(a.Transactions, oracle.NewFallback(cfg.FallbackSeed), results, a.Logger, opts...)
	return nil
}

// RegisterShutdown 把资源释放登记到停机管理器
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown) {
	for _, c := range a.closers {
		gs.Register(c.name, c.order, c.fn)
	}
}

// Close 按登记的逆序释放资源，供不经过停机管理器的命令行使用
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.WithError(err).Warnf("释放资源 %s 失败", c.name)
		}
	}
	a.closers = nil
}
