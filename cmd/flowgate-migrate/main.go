// cmd/flowgate-migrate/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "flowgate-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run metadata database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		// Load .env if present
		if err := godotenv.Load(); err != nil {
			fmt.Printf("No .env file found or failed to load: %v. Using --db flag.\n", err)
		}

		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			if os.Getenv("DB_HOST") != "" {
				connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
					os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD"),
					os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME"))
			} else {
				dsn := os.Getenv("METADATA_DSN")
				if dsn == "" {
					dsn = "storage/flowgate.db"
				}
				connStr = "sqlite://" + dsn
			}
		}

		// Each supported metadata database ships its own migration dialect.
		sourceURL := "file://migrations/sqlite"
		if strings.HasPrefix(connStr, "postgres") {
			sourceURL = "file://migrations/postgres"
		}

		m, err := migrate.New(sourceURL, connStr)
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("db", "", "Database connection URL (optional if env vars are set)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
