package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/proxy2fs/internal/cache"
	"github.com/any-hub/proxy2fs/internal/config"
	"github.com/any-hub/proxy2fs/internal/ingest"
	"github.com/any-hub/proxy2fs/internal/logging"
	"github.com/any-hub/proxy2fs/internal/proxy"
	"github.com/any-hub/proxy2fs/internal/resolver"
	"github.com/any-hub/proxy2fs/internal/server"
	"github.com/any-hub/proxy2fs/internal/server/routes"
)

const shutdownTimeout = 10 * time.Second

// service 持有一次进程生命周期内共享的组件。
type service struct {
	cfg    *config.Config
	logger *logrus.Logger
	table  *resolver.ExtensionTable
	coord  *cache.Coordinator
	proxy  *proxy.Server
	admin  *fiber.App
}

// buildExtensionTable 在默认表之上追加配置中的扩展名映射。
func buildExtensionTable(cfg *config.Config) (*resolver.ExtensionTable, error) {
	table := resolver.NewExtensionTable()
	for _, ext := range cfg.Extensions {
		if err := table.Register(ext.MimeType, ext.Ext); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func newService(cfg *config.Config, logger *logrus.Logger, table *resolver.ExtensionTable) (*service, error) {
	g := cfg.Global
	policy, err := cache.ParseBusyPolicy(g.BusyPolicy)
	if err != nil {
		return nil, err
	}

	// 配置中显式写 0 表示关闭历史；协调器用负数表达同一含义。
	historySize := g.HistorySize
	if historySize == 0 {
		historySize = -1
	}

	coord, err := cache.NewCoordinator(g.DestinationRoot, cache.Options{
		Policy:         policy,
		AcquireTimeout: g.AcquireTimeout.DurationValue(),
		HistorySize:    historySize,
	})
	if err != nil {
		return nil, err
	}

	ingestor := ingest.New(ingest.Options{
		Resolver:         resolver.New(coord.Root(), g.IncludeHostInPath, table),
		Coordinator:      coord,
		Sink:             logging.NewEntrySink(logger),
		Logger:           logger,
		SniffContentType: g.SniffContentType,
	})

	svc := &service{
		cfg:    cfg,
		logger: logger,
		table:  table,
		coord:  coord,
		proxy: proxy.NewServer(proxy.Options{
			Ingestor:     ingestor,
			Logger:       logger,
			Transport:    proxy.NewUpstreamTransport(cfg),
			InterceptTLS: g.InterceptTLS,
			MaxBodySize:  g.MaxBodySize,
		}),
	}

	if g.AdminEnabled() {
		app, err := server.NewApp(server.AppOptions{
			Logger:          logger,
			ListenPort:      g.AdminPort,
			ProxyPort:       g.ListenPort,
			DestinationRoot: coord.Root(),
		})
		if err != nil {
			return nil, err
		}
		routes.RegisterDiagnosticsRoutes(app, coord)
		routes.RegisterExtensionRoutes(app, table)
		server.NotFound(app, logger, g.AdminPort)
		svc.admin = app
	}

	return svc, nil
}

// listenAndServe 监听配置中的端口并阻塞到 ctx 结束。
func (svc *service) listenAndServe(ctx context.Context) error {
	proxyLn, err := net.Listen("tcp", fmt.Sprintf(":%d", svc.cfg.Global.ListenPort))
	if err != nil {
		return fmt.Errorf("监听代理端口失败: %w", err)
	}

	var adminLn net.Listener
	if svc.admin != nil {
		adminLn, err = net.Listen("tcp", fmt.Sprintf(":%d", svc.cfg.Global.AdminPort))
		if err != nil {
			_ = proxyLn.Close()
			return fmt.Errorf("监听诊断端口失败: %w", err)
		}
	}

	return svc.serve(ctx, proxyLn, adminLn)
}

// serve 在给定 listener 上运行代理与诊断服务；ctx 取消后优雅关闭。
// 任一服务异常退出都会让另一个一起关闭。
func (svc *service) serve(ctx context.Context, proxyLn, adminLn net.Listener) error {
	srv := &http.Server{
		Handler:           svc.proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		svc.logger.WithFields(logrus.Fields{
			"action": "listen",
			"addr":   proxyLn.Addr().String(),
		}).Info("代理服务启动")
		errCh <- srv.Serve(proxyLn)
	}()

	if svc.admin != nil && adminLn != nil {
		go func() {
			svc.logger.WithFields(logrus.Fields{
				"action": "listen",
				"addr":   adminLn.Addr().String(),
			}).Info("诊断服务启动")
			errCh <- svc.admin.Listener(adminLn, fiber.ListenConfig{DisableStartupMessage: true})
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if svc.admin != nil {
		if err := svc.admin.ShutdownWithContext(shutdownCtx); err != nil && serveErr == nil {
			serveErr = err
		}
	}

	stats := svc.coord.Stats()
	svc.logger.WithFields(logrus.Fields{
		"action":    "shutdown",
		"pending":   stats.Pending,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"busy":      stats.Busy,
	}).Info("服务已停止")

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}
