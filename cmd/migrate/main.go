// migrate creates or updates the payment ledger tables (payment_records, webhook_events).
// Run it before starting the server with SKIP_MIGRATIONS=true.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/migrate
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/models"
)

func main() {
	attempts := flag.Int("attempts", 5, "Connection attempts before giving up (0 retries forever)")
	flag.Parse()

	settings := config.LoadSettings()
	if settings.Database.Host == "" || settings.Database.Name == "" {
		fmt.Fprintln(os.Stderr, "DB_HOST and DB_NAME are required")
		os.Exit(2)
	}

	db, err := config.ConnectDatabaseWithRetry(settings.Database, *attempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ledger tables are up to date")
}
