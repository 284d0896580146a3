package main

import (
	"context"
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/config"
	"github.com/robkhoughton/trainingmonkey/internal/db"
	"github.com/robkhoughton/trainingmonkey/internal/logging"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev ]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}
	logging.Setup(logging.LoggerSetupParams{
		LogFileName: cfg.LogsPath,
		LogToStdout: true,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     cfg.PostgresHost,
		DBPort:     cfg.PostgresPort,
		DBName:     cfg.PostgresDBName,
		DBUser:     cfg.PostgresUser,
		DBPassword: os.Getenv("TM_POSTGRES_PASS"),
		MaxConns:   2,
	})
	if err != nil {
		log.Fatalf("new db pool: %s", err)
	}
	defer dbPool.Close()

	purger := integrity.NewPurger(
		integrity.NewRepo(dbPool),
		cfg.ACWR.CheckpointRetention(),
		cfg.ACWR.RollbackAuditRetention(),
	)
	if _, err := purger.Purge(ctx, time.Now()); err != nil {
		log.Errorf("purge: %s", err)
		os.Exit(1)
	}
}
