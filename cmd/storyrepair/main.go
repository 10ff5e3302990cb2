package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storyloom/internal/adapter/repo"
	"storyloom/internal/infra"
	"storyloom/internal/reconcile"
	"storyloom/internal/retention"
	"storyloom/internal/storage"
)

// storyrepair is the operator's toolbox for job folders: rebuild a story view
// from files, import a saved backlog into the catalog, or run one retention
// sweep by hand.
func main() {
	var (
		jobFlag     string
		areaFlag    string
		migrateFlag bool
		sweepFlag   bool
		ttlFlag     time.Duration
	)

	flag.StringVar(&jobFlag, "job", "", "reconstruct this job id from its folder and print the story view")
	flag.StringVar(&areaFlag, "area", "", "folder area to read (working or saved; defaults per action)")
	flag.BoolVar(&migrateFlag, "migrate", false, "scan an area and import unknown folders into the saved catalog")
	flag.BoolVar(&sweepFlag, "sweep", false, "run a single retention sweep over the working area")
	flag.DurationVar(&ttlFlag, "ttl", 0, "retention TTL override for -sweep (0 keeps the configured value)")
	flag.Parse()

	actions := 0
	if jobFlag != "" {
		actions++
	}
	if migrateFlag {
		actions++
	}
	if sweepFlag {
		actions++
	}
	if actions != 1 {
		exitWithError(errors.New("exactly one of -job, -migrate or -sweep must be given"))
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "storyrepair").Logger()

	store, err := storage.NewFileStore(cfg.StorageBasePath)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open artifact store: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch {
	case jobFlag != "":
		runReconstruct(ctx, store, logger, strings.TrimSpace(jobFlag), areaFlag)
	case migrateFlag:
		runMigrate(ctx, store, logger, cfg, areaFlag)
	case sweepFlag:
		runSweep(ctx, store, logger, cfg, ttlFlag)
	}
}

func runReconstruct(ctx context.Context, store *storage.FileStore, logger infra.Logger, jobID, areaRaw string) {
	area, err := storage.ParseArea(areaRaw)
	if err != nil {
		exitWithError(err)
	}
	engine := reconcile.New(store, nil, logger)
	story, err := engine.Reconstruct(ctx, jobID, area)
	if err != nil {
		exitWithError(fmt.Errorf("failed to reconstruct %s: %w", jobID, err))
	}
	out, err := json.MarshalIndent(story, "", "  ")
	if err != nil {
		exitWithError(err)
	}
	fmt.Println(string(out))
}

func runMigrate(ctx context.Context, store *storage.FileStore, logger infra.Logger, cfg *infra.Config, areaRaw string) {
	if cfg.DatabaseURL == "" {
		exitWithError(errors.New("DATABASE_URL is required for -migrate"))
	}
	area := storage.AreaSaved
	if areaRaw != "" {
		parsed, err := storage.ParseArea(areaRaw)
		if err != nil {
			exitWithError(err)
		}
		area = parsed
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	engine := reconcile.New(store, repo.NewSavedStoryStore(pool, logger), logger)
	outcomes, err := engine.ScanAndMigrate(ctx, area)
	if err != nil {
		exitWithError(fmt.Errorf("migration scan failed: %w", err))
	}

	migrated := 0
	for _, outcome := range outcomes {
		switch outcome.Action {
		case reconcile.ActionMigrated:
			migrated++
			fmt.Printf("%s: migrated (%d scenes)\n", outcome.StoryID, outcome.Scenes)
		case reconcile.ActionSkipped:
			fmt.Printf("%s: already in catalog\n", outcome.StoryID)
		default:
			fmt.Printf("%s: error: %s\n", outcome.StoryID, outcome.Error)
		}
	}
	fmt.Printf("scanned %d folders in %s, migrated %d\n", len(outcomes), area, migrated)
}

func runSweep(ctx context.Context, store *storage.FileStore, logger infra.Logger, cfg *infra.Config, ttl time.Duration) {
	if ttl <= 0 {
		ttl = cfg.RetentionTTL
	}
	sweeper := retention.NewSweeper(retention.Config{
		Enabled: true,
		TTL:     ttl,
	}, store, nil, logger)

	res := sweeper.SweepOnce(ctx)
	fmt.Printf("examined %d, deleted %d, errors %d, degraded %d (ttl %s)\n",
		res.Examined, res.Deleted, res.Errors, res.Degraded, ttl)
	if res.Errors > 0 {
		os.Exit(1)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
