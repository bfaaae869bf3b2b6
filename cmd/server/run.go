package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/database"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/monitor"
	"github.com/ccolleatte/dao-services/internal/router"
	"github.com/ccolleatte/dao-services/internal/scheduler"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

// components 进程内共享的依赖
type components struct {
	cfg        *config.Config
	db         *gorm.DB
	chain      *chain.Manager
	dispatcher *monitor.Dispatcher
}

func (c *components) close() {
	if err := c.chain.Close(); err != nil {
		logger.Warn("Failed to close chain manager: %v", err)
	}
	if sqlDB, err := c.db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Sync()
}

// bootstrap 加载配置并初始化日志、数据库、链客户端和事件分发器
func bootstrap(ctx context.Context, cliCtx *cli.Context) (*components, error) {
	cfg, err := config.LoadFile(cliCtx.String(configFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if _, err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	manager, err := chain.NewManager(ctx, cfg.Chain)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}

	processors := monitor.NewProcessorManager()
	monitor.NewEventHandlers(time.Now).Register(processors)
	logger.Info("Registered processors for events: %v", processors.GetSupportedEvents())

	return &components{
		cfg:   cfg,
		db:    db,
		chain: manager,
		dispatcher: monitor.NewDispatcher(db, manager, processors, monitor.DispatcherOptions{
			Dedup: cfg.Sync.Dedup,
		}),
	}, nil
}

func serve(cliCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer app.close()
	cfg := app.cfg

	listenerCfg := monitor.NewListenerConfig(cfg.Sync, cfg.Retry)
	contracts := app.chain.GetContracts()

	if cfg.Sync.CatchupOnStart {
		if err := catchup(ctx, app, listenerCfg); err != nil {
			return err
		}
	}

	client := app.chain.GetClient()
	if cfg.Sync.Mode == config.SyncModeSubscribe {
		client = app.chain.GetSubscriber()
	}
	listener := monitor.NewListener(client, contracts, app.dispatcher, logic.NewTransactionLogic(app.db), listenerCfg)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chain listener: %w", err)
	}

	tasks, err := scheduler.NewManager(app.db, app.dispatcher, cfg.Task)
	if err != nil {
		listener.Stop()
		return err
	}
	tasks.Start()

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Setup(app.db, listener, app.chain, cfg),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed: %v", err)
		}
	}

	listener.Stop()
	tasks.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(cfg.Server))
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("HTTP server shutdown: %v", shutdownErr)
	}

	logger.Info("Server stopped")
	return err
}

// catchup 启动实时监听前同步上次处理位置到当前高度之间的区块
func catchup(ctx context.Context, app *components, listenerCfg monitor.ListenerConfig) error {
	last, ok, err := logic.NewTransactionLogic(app.db).GetLastProcessedBlock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("No processed events found, skipping catch-up")
		return nil
	}

	historical := monitor.NewHistoricalSync(app.chain.GetClient(), app.chain.GetContracts(), app.dispatcher, listenerCfg)
	report, err := historical.SyncHistorical(ctx, last+1, 0)
	if err != nil {
		return fmt.Errorf("catch-up failed: %w", err)
	}
	logger.Info("Catch-up finished at block %d: applied=%d skipped=%d failed=%d",
		report.To, report.Applied, report.Skipped, report.Failed)
	return nil
}

func backfill(cliCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer app.close()

	historical := monitor.NewHistoricalSync(app.chain.GetClient(), app.chain.GetContracts(), app.dispatcher,
		monitor.NewListenerConfig(app.cfg.Sync, app.cfg.Retry))
	report, err := historical.SyncHistorical(ctx, cliCtx.Uint64(fromFlag.Name), cliCtx.Uint64(toFlag.Name))
	if err != nil {
		return err
	}

	out := json.NewEncoder(cliCtx.App.Writer)
	out.SetIndent("", "  ")
	return out.Encode(report)
}

func shutdownTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.ShutdownTimeout) * time.Second
}
