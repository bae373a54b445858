// Package main provides the reviewtally command-line tool for computing
// review-balance statistics across GitHub repositories.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/reviewtally/internal/config"
	"github.com/codeGROOVE-dev/reviewtally/pkg/tally"
)

const analysisTimeout = 30 * time.Minute

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	username := flag.String("username", "", "GitHub username to analyze")
	repos := flag.String("repos", "", "Comma-separated owner/name repositories")
	months := flag.Int("months", 0, "Lookback window in months")
	label := flag.String("label", "", "Only analyze PRs carrying this label")
	projectState := flag.String("project-state", "", "Only analyze open PRs with this project Status")
	projectNumber := flag.Int("project-number", 0, "Limit project-state checks to this project")
	excludeUsers := flag.String("exclude-users", "", "Comma-separated logins to ignore")
	excludeGenerated := flag.Bool("exclude-generated", false, "Exclude generated files from line counts")
	cacheFile := flag.String("cache", "", "Cache file path")
	noCache := flag.Bool("no-cache", false, "Disable caching")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}
	applyFlags(cfg, *username, *repos, *months, *label, *projectState, *projectNumber,
		*excludeUsers, *excludeGenerated, *cacheFile, *noCache)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
		log.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	opts := []tally.Option{tally.WithLogger(slog.Default())}
	if len(cfg.ExcludedUsers) > 0 {
		opts = append(opts, tally.WithExcludedUsers(cfg.ExcludedUsers))
	}
	if cfg.RequiredLabel != "" {
		opts = append(opts, tally.WithRequiredLabel(cfg.RequiredLabel))
	}
	if cfg.RequiredProjectState != "" {
		opts = append(opts, tally.WithRequiredProjectState(cfg.RequiredProjectState, cfg.ProjectNumber))
	}
	if cfg.ExcludeGenerated {
		opts = append(opts, tally.WithExcludeGeneratedFiles(cfg.FilePatterns))
	}
	if cfg.CacheFile != "" {
		opts = append(opts, tally.WithCacheFile(cfg.CacheFile))
	}
	if cfg.NoCache {
		opts = append(opts, tally.WithNoCache())
	}

	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()

	analyzer := tally.NewAnalyzer(cfg.Username, cfg.Token, opts...)
	report, err := analyzer.Analyze(ctx, cfg.Repositories, cfg.Months)
	if err != nil {
		log.Printf("Analysis failed: %v", err)
		cancel()
		os.Exit(1)
	}

	if err := analyzer.SaveCache(); err != nil {
		log.Printf("Failed to save cache: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Printf("Failed to encode report: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()
}

func applyFlags(cfg *config.Config, username, repos string, months int, label, projectState string,
	projectNumber int, excludeUsers string, excludeGenerated bool, cacheFile string, noCache bool,
) {
	if username != "" {
		cfg.Username = username
	}
	if repos != "" {
		cfg.Repositories = splitList(repos)
	}
	if months > 0 {
		cfg.Months = months
	}
	if label != "" {
		cfg.RequiredLabel = label
	}
	if projectState != "" {
		cfg.RequiredProjectState = projectState
	}
	if projectNumber != 0 {
		cfg.ProjectNumber = projectNumber
	}
	if excludeUsers != "" {
		cfg.ExcludedUsers = splitList(excludeUsers)
	}
	if excludeGenerated {
		cfg.ExcludeGenerated = true
	}
	if cacheFile != "" {
		cfg.CacheFile = cacheFile
	}
	if noCache {
		cfg.NoCache = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
