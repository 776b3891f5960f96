package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"fraudguard/internal/api"
	"fraudguard/internal/app"
	"fraudguard/internal/config"
	"fraudguard/internal/logging"
	"fraudguard/internal/shutdown"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0 表示使用配置文件")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		bootLogger.Warnf("配置文件 %s 不存在，使用默认配置与环境变量", path)
		path = ""
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		bootLogger.Fatalf("加载配置失败: %v", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		bootLogger.Fatalf("创建日志器失败: %v", err)
	}

	services, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatalf("初始化服务失败: %v", err)
	}

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Lifecycle:    services.Lifecycle,
		Transactions: services.Transactions,
		Analyzer:     services.Analyzer,
		Evidence:     services.Evidence,
		Feed:         services.Feed,
		Committer:    services.Committer,
		Validator:    services.Validator,
		Metrics:      services.Metrics,
		ErrorHandler: services.ErrorHandler,
	}, logger)

	gs := shutdown.NewGracefulShutdown(cfg.Server.ShutdownTimeout, logger)
	gs.Register("http", shutdown.OrderStopHTTP, server.Stop)
	services.RegisterShutdown(gs)
	gs.Start()

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			logger.Errorf("API服务器异常退出: %v", err)
			gs.Shutdown()
		}
	}()

	if errs := gs.Wait(); len(errs) > 0 {
		logger.Errorf("停机过程中有 %d 个处理失败", len(errs))
		os.Exit(1)
	}
	logger.Info("服务器已关闭")
}
