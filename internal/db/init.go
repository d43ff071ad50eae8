package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/constants"
	"github.com/relaydesk/taskrelay/internal/lock"
	"io/fs"
	"log"
	"sort"
)

const schema = "relay_schema"

//go:embed migrations/*.sql
var migrations embed.FS

// Init creates the schema and runs the embedded migration scripts in file-name order.
// Only one coordinator instance migrates at a time; the others wait on the migration lock
// and then find every statement already applied.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(ctx, constants.MigrationLock); err != nil {
			log.Printf("db: %v", err)
		}
	}()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return err
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		log.Printf("db: applying %s", script.name)
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("apply %s: %w", script.name, err)
		}
	}
	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := fs.ReadFile(migrations, "migrations/"+entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}
	return scripts, nil
}
