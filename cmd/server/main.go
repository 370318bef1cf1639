package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"sample-app/internal/config"
	"sample-app/internal/logger"
	"sample-app/internal/metrics"
	"sample-app/internal/server"
)

const appName = "sample-app"

// 构建时通过 -ldflags 覆盖
var version = "1.0.0"

func main() {
	cmd := &cli.Command{
		Name:    appName,
		Usage:   "DevOps pipeline demo HTTP service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML 配置文件路径（可选）",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: ".env 文件路径，不存在时忽略",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "监听地址，覆盖 HOST",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "监听端口，覆盖 PORT",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别，覆盖 LOG_LEVEL",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// 加载配置
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: cmd.String("config"),
		EnvFile:    cmd.String("env-file"),
	})
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 命令行参数优先级最高
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	// 初始化日志
	if err := logger.Init(cfg); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	log := logger.Bound(logger.GetLogger(), cfg)
	logger.Infof("启动 %s v%s (environment=%s)", cfg.AppName, cfg.AppVersion, cfg.Environment)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New(metrics.BuildInfo{
		Version:     cfg.AppVersion,
		Environment: cfg.Environment,
		BuildDate:   cfg.BuildDate,
	})

	srv, err := server.NewServer(cfg, log, m)
	if err != nil {
		return fmt.Errorf("创建服务失败: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Start(egctx)
	})
	eg.Go(func() error {
		<-egctx.Done()
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Errorf("服务异常退出: %v", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}
