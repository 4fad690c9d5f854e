package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/enginesmith/internal/config"
	"git.home.luguber.info/inful/enginesmith/internal/executil"
	"git.home.luguber.info/inful/enginesmith/internal/gitsrc"
	"git.home.luguber.info/inful/enginesmith/internal/history"
	"git.home.luguber.info/inful/enginesmith/internal/logfields"
	"git.home.luguber.info/inful/enginesmith/internal/pipeline"
	"git.home.luguber.info/inful/enginesmith/internal/prompt"
	"git.home.luguber.info/inful/enginesmith/internal/registry"
	"git.home.luguber.info/inful/enginesmith/internal/releases"
	"git.home.luguber.info/inful/enginesmith/internal/version"
	"github.com/alecthomas/kong"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Clone    bool   `help:"Clone and build a new engine version instead of reusing an existing build"`
		Variant  string `help:"Variant name for the build (prompted when omitted)"`
		Packages string `short:"p" help:"Path to custom package sources (defaults to the configured path)"`
	} `cmd:"" help:"Run the build pipeline"`

	Versions struct{} `cmd:"" help:"List recent stable upstream releases"`

	List struct{} `cmd:"" help:"List tracked builds from the registry"`

	History struct {
		Limit int `default:"10" help:"Number of recent runs to show"`
	} `cmd:"" help:"Show recent pipeline runs"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Set up logging
	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "build":
		cfg := loadConfig()
		if err := runBuild(cfg, CLI.Build.Clone, CLI.Build.Variant, CLI.Build.Packages); err != nil {
			slog.Error("Build failed", logfields.Error(err))
			os.Exit(1)
		}
	case "versions":
		cfg := loadConfig()
		if err := runVersions(cfg); err != nil {
			slog.Error("Listing releases failed", logfields.Error(err))
			os.Exit(1)
		}
	case "list":
		cfg := loadConfig()
		if err := runList(cfg); err != nil {
			slog.Error("Listing builds failed", logfields.Error(err))
			os.Exit(1)
		}
	case "history":
		cfg := loadConfig()
		if err := runHistory(cfg, CLI.History.Limit); err != nil {
			slog.Error("Listing run history failed", logfields.Error(err))
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", logfields.Error(err))
			os.Exit(1)
		}
	case "version":
		fmt.Printf("enginesmith %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}
}

// loadConfig reads the configured file, falling back to built-in defaults
// when it does not exist.
func loadConfig() *config.Config {
	if _, err := os.Stat(CLI.Config); os.IsNotExist(err) {
		slog.Debug("No configuration file, using defaults", logfields.Path(CLI.Config))
		return config.Default()
	}
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}
	return cfg
}

func runBuild(cfg *config.Config, clone bool, variantName, packagesDir string) error {
	ctx := context.Background()
	prompter := prompt.New(os.Stdin, os.Stdout)

	// Without --clone and without anything on disk there is nothing to
	// reuse; offer the clone flow instead of failing outright.
	if !clone && !hasExistingBuilds(cfg.Paths.BuildsDir) {
		answer, err := prompter.Confirm("No existing builds found. Clone a new version?", true)
		if err != nil {
			return err
		}
		if !answer {
			return fmt.Errorf("nothing to build: no existing builds and cloning declined")
		}
		clone = true
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The run log is truncated at the very start of every run.
	runLog, err := executil.OpenRunLog(filepath.Join(cfg.Paths.DataDir, "run.log"))
	if err != nil {
		return err
	}
	defer func() { _ = runLog.Close() }()

	reg := registry.New(filepath.Join(cfg.Paths.DataDir, "builds.json"))
	reg.Load()

	var store *history.Store
	store, err = history.Open(filepath.Join(cfg.Paths.DataDir, "history.db"))
	if err != nil {
		// History is observability only; a broken database must not block builds.
		slog.Warn("Run history unavailable", logfields.Error(err))
		store = nil
	} else {
		defer func() { _ = store.Close() }()
	}

	builder := pipeline.NewBuilder(
		cfg,
		executil.NewRunner(runLog),
		reg,
		releases.NewClient(cfg.Releases.APIURL),
		prompter,
		gitsrc.NewClient(cfg.Engine.RepoURL, cfg.Engine.CloneDepth),
	).WithVariantName(variantName).WithPackagesDir(packagesDir)

	return pipeline.NewOrchestrator(builder.Steps(), clone).WithHistory(store).Run(ctx)
}

func hasExistingBuilds(buildsDir string) bool {
	entries, err := os.ReadDir(buildsDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			return true
		}
	}
	return false
}

func runVersions(cfg *config.Config) error {
	candidates, err := releases.NewClient(cfg.Releases.APIURL).FetchRecentStable(context.Background(), cfg.Releases.Limit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no stable releases found at %s", cfg.Releases.APIURL)
	}
	for _, c := range candidates {
		fmt.Printf("%-20s %s\n", c.Tag, c.Version.String())
	}
	return nil
}

func runList(cfg *config.Config) error {
	reg := registry.New(filepath.Join(cfg.Paths.DataDir, "builds.json"))
	records := reg.Load()
	if len(records) == 0 {
		fmt.Println("No tracked builds.")
		return nil
	}
	for identity, rec := range records {
		status := ""
		// Registry entries may outlive their folders; flag rather than fail.
		if _, err := os.Stat(filepath.Join(cfg.Paths.BuildsDir, identity)); err != nil {
			status = "  (missing on disk)"
		}
		fmt.Printf("%-32s %-16s %-20s %s%s\n",
			identity, rec.VersionTag, rec.VariantName, rec.CreatedAt.Format("2006-01-02 15:04"), status)
	}
	return nil
}

func runHistory(cfg *config.Config, limit int) error {
	store, err := history.Open(filepath.Join(cfg.Paths.DataDir, "history.db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.RecentRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-36s %-28s %-10s started %s  finished %s\n",
			r.ID, r.BuildID, r.Outcome, r.StartedAt.Format("2006-01-02 15:04:05"), finished)
	}
	return nil
}
