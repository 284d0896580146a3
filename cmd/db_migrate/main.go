package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/dbmigrations"
	"github.com/robkhoughton/trainingmonkey/internal/config"
	"github.com/robkhoughton/trainingmonkey/internal/db"
	"github.com/robkhoughton/trainingmonkey/internal/logging"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev ]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	direction := flag.String("direction", "up", "up | down | status")
	steps := flag.Int("steps", 1, "number of migrations to undo with -direction=down")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}
	logging.Setup(logging.LoggerSetupParams{
		LogToStdout: true,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})

	connString := db.NewDBPoolParams{
		DBHost:     cfg.PostgresHost,
		DBPort:     cfg.PostgresPort,
		DBName:     cfg.PostgresDBName,
		DBUser:     cfg.PostgresUser,
		DBPassword: os.Getenv("TM_POSTGRES_PASS"),
	}.ConnString() + "?sslmode=disable"

	sqlDB, err := sql.Open("postgres", connString)
	if err != nil {
		log.Fatalf("open db: %s", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Errorf("close db: %s", err)
		}
	}()

	switch *direction {
	case "up":
		n, err := dbmigrations.Up(sqlDB)
		if err != nil {
			log.Fatalf("migrate up: %s", err)
		}
		log.Infof("applied %d migration(s)", n)
	case "down":
		n, err := dbmigrations.Down(sqlDB, *steps)
		if err != nil {
			log.Fatalf("migrate down: %s", err)
		}
		log.Infof("reverted %d migration(s)", n)
	case "status":
		statuses, err := dbmigrations.Pending(sqlDB)
		if err != nil {
			log.Fatalf("migration status: %s", err)
		}
		for _, s := range statuses {
			fmt.Printf("%-50s applied=%t\n", s.ID, s.Applied)
		}
	default:
		log.Fatalf("unknown direction: %s", *direction)
	}
}
