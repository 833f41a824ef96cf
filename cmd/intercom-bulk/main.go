// Command intercom-bulk runs bulk conversation operations: search for
// conversations matching a team and state, then close, tag, or update
// every match concurrently under the remote rate limits.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/rkoehl/intercom-bulk/pkg/bulk"
	"github.com/rkoehl/intercom-bulk/pkg/client"
	"github.com/rkoehl/intercom-bulk/pkg/intercom"
	"github.com/rkoehl/intercom-bulk/pkg/logging"
	"github.com/rkoehl/intercom-bulk/pkg/ratelimit"
	"github.com/rkoehl/intercom-bulk/pkg/retry"
)

func main() {
	var (
		configPath  = pflag.String("config", "intercom-bulk.yaml", "Path to YAML configuration file")
		teamID      = pflag.String("team", "", "Team assignee ID to search (overrides config)")
		state       = pflag.String("state", "", "Conversation state to search (default: open)")
		action      = pflag.String("action", "close", "Action to apply: close, tag, or update-state")
		tagIDs      = pflag.StringSlice("tag", nil, "Tag IDs for --action=tag")
		newState    = pflag.String("new-state", "", "Target state for --action=update-state")
		workers     = pflag.Int("workers", 15, "Concurrent workers")
		pageSize    = pflag.Int("page-size", 50, "Search page size")
		maxItems    = pflag.Int("max-items", 0, "Stop after this many items (0 = unbounded)")
		timeout     = pflag.Duration("timeout", 30*time.Second, "Per-call timeout")
		maxAttempts = pflag.Int("max-attempts", 5, "Max attempts per call")
		rps         = pflag.Float64("rps", 10, "Local request rate ceiling (0 disables)")
		metricsAddr = pflag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
		logLevel    = pflag.String("log-level", "", "Log level: debug, info, warn, error")
		pretty      = pflag.Bool("pretty", false, "Human-readable log output")
	)
	pflag.Parse()

	explicitConfig := pflag.CommandLine.Changed("config")
	cfg, err := loadConfig(*configPath, explicitConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := logging.LogLevel(*logLevel)
	if *logLevel == "" {
		if cfg.LogLevel != "" {
			level = logging.LogLevel(cfg.LogLevel)
		} else {
			level = logging.LevelInfo
		}
	}
	logger := logging.Setup(logging.Config{Level: level, Pretty: *pretty, Output: os.Stderr})

	if *teamID == "" {
		*teamID = cfg.TeamID
	}
	if *state == "" {
		*state = cfg.State
	}
	if cfg.AccessToken == "" {
		logger.Fatal().Msg("No access token: set INTERCOM_ACCESS_TOKEN or access_token in the config file")
	}
	if *teamID == "" {
		logger.Fatal().Msg("No team: pass --team, set INTERCOM_TEAM_ID, or team_id in the config file")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
		logger.Info().Str("addr", *metricsAddr).Msg("Serving Prometheus metrics")
	}

	budget := ratelimit.NewBudget(ratelimit.Config{RequestsPerSecond: *rps}, logger)
	apiClient, err := client.New(client.Config{
		BaseURL:     cfg.BaseURL,
		AccessToken: cfg.AccessToken,
		UserAgent:   "intercom-bulk/1.0",
		Timeout:     *timeout,
		Budget:      budget,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}

	source := intercom.ConversationSource{TeamID: *teamID, State: *state}
	act, err := buildAction(apiClient, cfg.AdminID, *action, *tagIDs, *newState)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build action")
	}

	engine, err := bulk.New(apiClient, source, act, bulk.Config{
		Workers:  *workers,
		PageSize: *pageSize,
		MaxItems: *maxItems,
		Policy: retry.Policy{
			MaxAttempts: *maxAttempts,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid engine configuration")
	}

	// First SIGINT drains gracefully, second kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle := engine.Start(ctx)
	go func() {
		<-ctx.Done()
		logger.Warn().Msg("Cancellation requested - draining in-flight items")
		handle.Cancel()
	}()

	report, runErr := handle.Wait()
	printSummary(report)

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Run aborted")
		os.Exit(1)
	}
}

// buildAction maps the --action flag to a concrete strategy.
func buildAction(c *client.Client, adminID, name string, tagIDs []string, newState string) (bulk.Action, error) {
	switch name {
	case "close":
		return intercom.NewCloseAction(c, adminID)
	case "tag":
		return intercom.NewTagAction(c, tagIDs)
	case "update-state":
		return intercom.NewUpdateAction(c, newState, nil)
	default:
		return nil, fmt.Errorf("unknown action %q (expected close, tag, or update-state)", name)
	}
}

// printSummary writes the final report to stdout.
func printSummary(report *bulk.Report) {
	var failures []string
	for _, res := range report.Results {
		if res.Outcome == bulk.OutcomePermanentFailure {
			failures = append(failures, res.ItemID)
		}
	}

	fmt.Printf("Status:     %s\n", report.Status)
	fmt.Printf("Discovered: %d\n", report.Counts.Discovered)
	fmt.Printf("Succeeded:  %d\n", report.Counts.Succeeded)
	fmt.Printf("Failed:     %d\n", report.Counts.Failed)
	fmt.Printf("Skipped:    %d\n", report.Counts.Skipped)
	fmt.Printf("Elapsed:    %s\n", report.Elapsed.Round(time.Millisecond))
	if secs := report.Elapsed.Seconds(); secs > 0 && report.Counts.Discovered > 0 {
		fmt.Printf("Rate:       %.1f items/sec\n", float64(report.Counts.Discovered-report.Counts.InFlight)/secs)
	}
	if len(failures) > 0 {
		fmt.Printf("Failed IDs: %s\n", strings.Join(failures, ", "))
	}
}
