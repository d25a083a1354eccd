// Package main is the package registry server binary.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"

	"github.com/packreg/packreg/internal/config"
	"github.com/packreg/packreg/internal/index"
	"github.com/packreg/packreg/internal/registry"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "packreg",
		Short:        "Package registry server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	root.AddCommand(serveCmd(), rebuildIndexCmd(), userAddCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// openDatabase connects to the configured SQL backend.
func openDatabase(cfg config.Database) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.Type {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// setup loads the configuration and connects the database with all tables
// and the search index migrated.
func setup(cmd *cobra.Command) (*config.Config, *gorm.DB, *slog.Logger, error) {
	cfg, err := config.Load(cmd, configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := registry.NewStore(db).AutoMigrate(); err != nil {
		return nil, nil, nil, err
	}
	if err := index.NewSQLIndex(db).AutoMigrate(); err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, logger, nil
}
