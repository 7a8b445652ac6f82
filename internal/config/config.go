// Package config loads runtime settings from the environment, with .env
// support for local development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Settings holds everything the server needs to start.
type Settings struct {
	Host           string
	Port           string
	MetadataDriver string // sql driver name for the metadata store
	MetadataDSN    string
	TraceDir       string // workflow execution trace directory
}

// Load reads settings from the environment. A .env file is loaded first when
// present. The metadata store defaults to an on-disk sqlite database; setting
// the DB_* variables switches it to postgres.
func Load() Settings {
	_ = godotenv.Load()

	s := Settings{
		Host:           getenv("HOST", "0.0.0.0"),
		Port:           getenv("PORT", "8000"),
		MetadataDriver: getenv("METADATA_DRIVER", "sqlite"),
		MetadataDSN:    getenv("METADATA_DSN", "storage/flowgate.db"),
		TraceDir:       getenv("TRACE_DIR", "storage/workflow_logs"),
	}

	if s.MetadataDSN == "storage/flowgate.db" && os.Getenv("DB_HOST") != "" {
		s.MetadataDriver = "postgres"
		s.MetadataDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"), getenv("DB_PORT", "5432"), os.Getenv("DB_NAME"))
	}
	return s
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
