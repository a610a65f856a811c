// Command migrate-gen generates SQL migration files for the leaf store tables.
//
// Usage:
//
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -tracks-table sta_tracks -leaves-table sta_leaves
//
// The leaf status journal needs the pupsourcing event store tables (PostgreSQL only):
//
//	go run github.com/getpup/leaf-orchestrator/cmd/migrate-gen -adapter postgres -journal -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	esmigrations "github.com/getpup/pupsourcing/es/migrations"

	"github.com/getpup/leaf-orchestrator/pkg/migrations"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		tracksTable    = flag.String("tracks-table", "leaf_tracks", "Name of tracks table")
		leavesTable    = flag.String("leaves-table", "leaf_records", "Name of leaf records table")
		payloadsTable  = flag.String("payloads-table", "leaf_payloads", "Name of leaf payloads table")
		down           = flag.Bool("down", false, "Also generate a down migration")
		journal        = flag.Bool("journal", false, "Also generate the event store migration for the leaf status journal (postgres only)")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.TracksTable = *tracksTable
	config.LeavesTable = *leavesTable
	config.PayloadsTable = *payloadsTable
	config.Down = *down

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)

	if !*journal {
		return
	}
	if *adapter != "postgres" {
		fmt.Fprintf(os.Stderr, "Error: the journal requires the postgres adapter\n")
		os.Exit(1)
	}

	journalConfig := esmigrations.Config{
		OutputFolder:        config.OutputFolder,
		OutputFilename:      "journal_" + config.OutputFilename,
		EventsTable:         "events",
		CheckpointsTable:    "projection_checkpoints",
		AggregateHeadsTable: "aggregate_heads",
	}
	if err := esmigrations.GeneratePostgres(&journalConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating journal migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated journal migration: %s/%s\n", journalConfig.OutputFolder, journalConfig.OutputFilename)
}
