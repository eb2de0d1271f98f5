package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"isin-controls/internal/config"
	"isin-controls/internal/store"
)

// App 聚合核心依赖并驱动一次校验运行。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 执行一次校验。开启 monitor.hold 时，运行结束后继续提供监控接口直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Input.Path == "" {
		return errors.New("未指定输入文件")
	}

	a.logger.Info("校验系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("input", a.cfg.Input.Path),
		zap.String("registry", a.cfg.Registry.URL),
	)

	p, err := newPipeline(a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, p.monitor, p.metrics, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	if _, err := p.Execute(ctx); err != nil {
		return fmt.Errorf("校验运行失败: %w", err)
	}

	if a.cfg.Monitor.Enabled && a.cfg.Monitor.Hold {
		a.logger.Info("运行已完成，监控接口保持开启，等待退出信号")
		<-ctx.Done()
		a.logger.Info("系统收到退出信号，正在停止")
	}
	return nil
}
