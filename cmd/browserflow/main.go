// =============================================================================
// BrowserFlow 主入口
// =============================================================================
// 无头浏览器控制面：HTTP API、事件流、Prometheus 指标、会话库迁移
//
// 使用方法:
//
//	browserflow serve                          # 启动服务
//	browserflow serve --config config.yaml     # 指定配置文件（支持热重载）
//	browserflow fetch https://example.com      # 抓取一次页面内容
//	browserflow migrate up                     # 迁移 SQL 会话库
//	browserflow version                        # 显示版本信息
//	browserflow health                         # 健康检查
// =============================================================================

// @title BrowserFlow API
// @version 1.0.0
// @description Headless browser lifecycle service: pooled browsers, retrying navigation, persistent sessions and captcha handling.

// @contact.name BrowserFlow Team
// @contact.url https://github.com/BaSui01/browserflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/browserflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "fetch":
		err = runFetch(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 按 默认值 → YAML → 环境变量 的顺序加载并校验
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loader, nil
}

// signalContext 在 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	apiKey := fs.String("api-key", "", "API key when health endpoints are protected")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, *addr+"/ready", nil)
	if err != nil {
		return err
	}
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("BrowserFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`BrowserFlow - headless browser lifecycle service

Usage:
  browserflow <command> [options]

Commands:
  serve     Start the HTTP control API
  fetch     Fetch one or more URLs and print their content
  migrate   SQL session store migrations
  version   Show version information
  health    Check server readiness
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML), watched for changes

Options for 'fetch':
  --config <path>       Path to configuration file (YAML)
  --session <name>      Restore and save this session around each fetch
  --concurrency <n>     Pages fetched in parallel (default 4)
  --json                Print one JSON result per line instead of raw content

Examples:
  browserflow serve --config /etc/browserflow/config.yaml
  browserflow fetch --session shop https://example.com/account
  browserflow migrate up --config /etc/browserflow/config.yaml
  browserflow health --addr http://localhost:8080
  browserflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger。返回的 AtomicLevel 供热重载调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
