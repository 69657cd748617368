package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/internal/database"
	"github.com/BaSui01/browserflow/internal/migration"
)

// =============================================================================
// 🗄️ SQL 会话库迁移
// =============================================================================

func printMigrateUsage() {
	fmt.Println(`SQL session store migrations

Usage:
  browserflow migrate <subcommand> [options] [argument]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the latest migration
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to version v
  force <v>   Force the recorded version (dirty state recovery)
  version     Show the current version
  status      List every migration and whether it is applied
  info        Show a summary

Options:
  --config <path>   Configuration file; session.store.database is used
  --driver <name>   Override the driver: postgres, mysql, sqlite
  --dsn <dsn>       Override the connection string

Examples:
  browserflow migrate up --config /etc/browserflow/config.yaml
  browserflow migrate status --driver sqlite --dsn ./sessions.db
  browserflow migrate goto --config config.yaml 1`)
}

func runMigrate(args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		return nil
	}
	command := args[0]

	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Database driver (postgres, mysql, sqlite)")
	dsn := fs.String("dsn", "", "Database connection string")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dbCfg := cfg.Session.Store.Database
	if *driver != "" {
		dbCfg.Driver = *driver
	}
	if *dsn != "" {
		dbCfg.DSN = *dsn
	}
	if dbCfg.Driver == "" {
		return fmt.Errorf("no database configured: set session.store.database or pass --driver and --dsn")
	}

	// 迁移输出直接打印到终端，日志只保留警告
	cfg.Log.Level = "warn"
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	return migrate(ctx, dbCfg, command, fs.Args(), logger)
}

func migrate(ctx context.Context, dbCfg database.Config, command string, args []string, logger *zap.Logger) error {
	dialect, err := migration.ParseDialect(dbCfg.Driver)
	if err != nil {
		return err
	}
	pool, err := database.Open(dbCfg, logger)
	if err != nil {
		return err
	}
	// 停止健康检查循环；sql.DB 重复关闭无副作用
	defer pool.Close()

	sqlDB, err := pool.DB().DB()
	if err != nil {
		return fmt.Errorf("get sql handle: %w", err)
	}
	m, err := migration.New(sqlDB, dialect, migration.WithLogger(logger))
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(os.Stdout)
	return cli.Run(ctx, command, args...)
}
