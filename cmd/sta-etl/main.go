// Command sta-etl brings the leaves of recorded tracks up to date.
//
// Usage:
//
//	sta-etl -config sta-etl.yaml -track 3f2a... -plugins SimpleProjection
//
// Process every track of an owner, split across three machines:
//
//	sta-etl -config sta-etl.yaml -owner alice -shard 0/3
//	sta-etl -config sta-etl.yaml -owner alice -shard 1/3
//	sta-etl -config sta-etl.yaml -owner alice -shard 2/3
//
// Import a CSV recording as a new track and process it:
//
//	sta-etl -config sta-etl.yaml -import ride.csv -owner alice -name "Morning ride"
//
// Show what a run would produce without running any plugin:
//
//	sta-etl -config sta-etl.yaml -owner alice -plugins SimpleProjection -plan
//
// List the available plugins:
//
//	sta-etl -list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/branch"
	"github.com/getpup/leaf-orchestrator/internal/app"
	"github.com/getpup/leaf-orchestrator/internal/config"
	"github.com/getpup/leaf-orchestrator/internal/logging"
	"github.com/getpup/leaf-orchestrator/internal/trackimport"
	"github.com/getpup/leaf-orchestrator/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sta-etl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath   = fs.String("config", "", "Path to the YAML configuration file (optional)")
		track        = fs.String("track", "", "Hash of the track to process")
		owner        = fs.String("owner", "", "Process every track of this owner")
		shard        = fs.String("shard", "", "Process only shard index/total of the tracks, e.g. 0/3")
		plugins      = fs.String("plugins", "", "Plugins to run, e.g. SimpleDistance,Dev2 (default: pipeline.plugins, or all)")
		list         = fs.Bool("list", false, "List the available plugins and exit")
		overwrite    = fs.Bool("overwrite", false, "Recompute leaves that are already processed")
		importPath   = fs.String("import", "", "Import a CSV recording as a new track before processing")
		name         = fs.String("name", "", "Name of the imported track")
		releaseStale = fs.Bool("release-stale", false, "Release claims older than pipeline.stale_claim_timeout")
		showVersion  = fs.Bool("version", false, "Print the version and exit")
		planOnly     = fs.Bool("plan", false, "Print the leaves each track would produce and exit without running plugins")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *planOnly && *importPath != "" {
		fmt.Fprintln(stderr, "Error: -plan cannot be combined with -import")
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "sta-etl %s\n", version.Get())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *overwrite {
		cfg.Pipeline.Overwrite = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Log)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if *list {
		printPlugins(stdout, a)
		return 0
	}

	// Reject an invalid selection before anything is written
	selection, err := a.Selection(*plugins)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *releaseStale {
		released, err := a.Coordinator.ReleaseStaleClaims(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error releasing stale claims: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Released %d stale claim(s)\n", released)
		if *track == "" && *owner == "" && *importPath == "" {
			return 0
		}
	}

	if *importPath != "" {
		hash, err := importTrack(ctx, a, *importPath, trackimport.Options{
			Hash:   orchestrator.TrackHash(*track),
			Owner:  *owner,
			Name:   *name,
			Logger: logger,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error importing %s: %v\n", *importPath, err)
			return 1
		}
		fmt.Fprintf(stdout, "Imported track %s\n", hash)
		*track = string(hash)
	}

	if server := a.MetricsServer(); server != nil {
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	tracks, err := a.Tracks(ctx, orchestrator.TrackHash(*track), *owner, *shard)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(tracks) == 0 {
		fmt.Fprintln(stdout, "No tracks to process")
		return 0
	}

	if *planOnly {
		return printPlans(ctx, stdout, stderr, a, tracks, selection)
	}

	results, err := a.Process(ctx, tracks, selection)
	printResults(stdout, results)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	code := 0
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(stderr, "Error processing track %s: %v\n", result.Report.Track, result.Err)
			code = 1
		}
	}
	return code
}

func importTrack(ctx context.Context, a *app.App, path string, opts trackimport.Options) (orchestrator.TrackHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	track, err := trackimport.Import(ctx, a.Store, f, opts)
	if err != nil {
		return "", err
	}
	return track.Hash, nil
}

func printPlugins(w io.Writer, a *app.App) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tLEAF\tDEPENDS ON\tDESCRIPTION")
	for _, entry := range a.Registry.Entries() {
		deps := make([]string, 0, len(entry.Config.Dependencies))
		for _, dep := range entry.Config.Dependencies {
			deps = append(deps, string(dep))
		}
		depList := strings.Join(deps, ", ")
		if depList == "" {
			depList = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.Config.ID, entry.Config.LeafName, depList, entry.Config.Description)
	}
	_ = tw.Flush()
}

func printResults(w io.Writer, results []branch.TrackResult) {
	for _, result := range results {
		report := result.Report
		fmt.Fprintf(w, "Track %s: %d processed, %d failed, %d skipped, %d already handled\n",
			report.Track, len(report.Processed()), len(report.Failed()), len(report.Skipped()), len(report.Handled()))

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, attempt := range report.Attempts {
			role := "selected"
			if !attempt.Requested {
				role = "prerequisite"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", attempt.Plugin, attempt.Leaf, attempt.State, role, attempt.Reason)
		}
		_ = tw.Flush()
	}
}

func printPlans(ctx context.Context, stdout, stderr io.Writer, a *app.App, tracks []orchestrator.TrackHash, selection []orchestrator.PluginID) int {
	code := 0
	for _, track := range tracks {
		plan, err := a.Orchestrator.Plan(ctx, track, selection)
		if err != nil {
			fmt.Fprintf(stderr, "Error planning track %s: %v\n", track, err)
			code = 1
			continue
		}
		if len(plan) == 0 {
			fmt.Fprintf(stdout, "Track %s: up to date\n", track)
			continue
		}
		names := make([]string, 0, len(plan))
		for _, leaf := range plan {
			names = append(names, string(leaf))
		}
		fmt.Fprintf(stdout, "Track %s: %s\n", track, strings.Join(names, " -> "))
	}
	return code
}
