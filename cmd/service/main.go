package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal"
	"github.com/robkhoughton/trainingmonkey/internal/config"
	"github.com/robkhoughton/trainingmonkey/internal/logging"
)

// secrets never live in config.toml
type secrets struct {
	operatorTokenHash string
	ingestSecret      string
	redisPassword     string
	postgresPassword  string
	sentryDSN         string
	honeycomb         bool
}

func secretsFromEnv() secrets {
	s := secrets{
		operatorTokenHash: os.Getenv("TM_OPERATOR_TOKEN_HASH"),
		ingestSecret:      os.Getenv("TM_INGEST_SECRET"),
		redisPassword:     os.Getenv("TM_REDIS_PASS"),
		postgresPassword:  os.Getenv("TM_POSTGRES_PASS"),
		sentryDSN:         os.Getenv("SENTRY_DSN"),
		honeycomb:         os.Getenv("HONEYCOMB_ENABLED") == "true",
	}
	return s
}

// warn reports missing secrets once logging is up.
func (s secrets) warn() {
	if s.operatorTokenHash == "" {
		log.Errorln("TM_OPERATOR_TOKEN_HASH not set, operator endpoints will reject every call")
	}
	if s.ingestSecret == "" {
		log.Errorln("TM_INGEST_SECRET not set, load ingestion is closed")
	}
	if s.redisPassword == "" {
		log.Warnln("TM_REDIS_PASS not set")
	}
	if os.Getenv("OTEL_SERVICE_NAME") == "" {
		log.Warnln("OTEL_SERVICE_NAME not set")
	}
	if s.honeycomb && os.Getenv("HONEYCOMB_API_KEY") == "" {
		log.Warnln("HONEYCOMB_ENABLED without HONEYCOMB_API_KEY")
	}
}

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev ]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	inMemory := flag.Bool("memory", false, "keep all data in memory (no postgres)")
	flag.Parse()

	if err := run(*env, *configPath, *envFile, *inMemory); err != nil {
		fmt.Fprintf(os.Stderr, "acwr service: %s\n", err)
		os.Exit(1)
	}
}

func run(env, configPath, envFile string, inMemory bool) error {
	// a missing dotenv file is normal outside of local development
	_ = godotenv.Load(envFile)

	cfg, err := config.Load(env, configPath)
	if err != nil {
		return err
	}

	sec := secretsFromEnv()
	versionInfo := lastCommitHash()

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		Release:          versionInfo,
		SentryEnabled:    cfg.SentryEnabled && sec.sentryDSN != "",
		SentryDSN:        sec.sentryDSN,
		SentryServerName: "acwr-service",
	})
	log.Warnf("---->> running in [%s] environment, version [%s], in-memory: %t", cfg.Environment, versionInfo, inMemory)
	sec.warn()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server, err := internal.NewServer(ctx, internal.NewServerParams{
		Config:                  cfg,
		VersionInfo:             versionInfo,
		RedisPassword:           sec.redisPassword,
		PostgresPassword:        sec.postgresPassword,
		OperatorTokenHash:       sec.operatorTokenHash,
		IngestSecret:            sec.ingestSecret,
		InMemory:                inMemory,
		HoneycombTracingEnabled: sec.honeycomb,
	})
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	<-ctx.Done()
	log.Warnln("shutdown signal received, pausing running migrations ...")
	server.GracefulShutdown()
	return nil
}

// lastCommitHash expects the binary to run from the repository root.
func lastCommitHash() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
