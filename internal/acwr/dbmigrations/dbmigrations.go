// Package dbmigrations holds the ACWR schema and applies it with sql-migrate.
package dbmigrations

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
)

const Table = "acwr_schema_migrations"

//go:embed sql/*.sql
var files embed.FS

func init() {
	migrate.SetTable(Table)
}

func Source() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: files,
		Root:       "sql",
	}
}

// Up applies every pending migration and returns how many ran.
func Up(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, "postgres", Source(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("apply acwr schema: %w", err)
	}
	log.Infof("acwr schema: %d migration(s) applied", n)
	return n, nil
}

// Down reverts at most steps migrations, all of them when steps is 0.
func Down(db *sql.DB, steps int) (int, error) {
	n, err := migrate.ExecMax(db, "postgres", Source(), migrate.Down, steps)
	if err != nil {
		return n, fmt.Errorf("revert acwr schema: %w", err)
	}
	log.Infof("acwr schema: %d migration(s) reverted", n)
	return n, nil
}

type Status struct {
	ID      string
	Applied bool
}

func Pending(db *sql.DB) ([]Status, error) {
	migrations, err := Source().FindMigrations()
	if err != nil {
		return nil, err
	}
	records, err := migrate.GetMigrationRecords(db, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	applied := map[string]bool{}
	for _, r := range records {
		applied[r.Id] = true
	}
	out := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, Status{ID: m.Id, Applied: applied[m.Id]})
	}
	return out, nil
}
