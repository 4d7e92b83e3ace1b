package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	"git.home.luguber.info/inful/ghillie/internal/config"
	"git.home.luguber.info/inful/ghillie/internal/daemon"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/ingest"
	"git.home.luguber.info/inful/ghillie/internal/observability"
	"git.home.luguber.info/inful/ghillie/internal/registry"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
	"git.home.luguber.info/inful/ghillie/internal/silver"
	"git.home.luguber.info/inful/ghillie/internal/sink"
	"git.home.luguber.info/inful/ghillie/internal/status"
	"git.home.luguber.info/inful/ghillie/internal/storage"
	"git.home.luguber.info/inful/ghillie/internal/transform"
	"git.home.luguber.info/inful/ghillie/internal/version"
)

var CLI struct {
	EnvFile string `help:"Env file loaded before reading the environment." default:".env"`
	Verbose bool   `short:"v" help:"Enable verbose logging."`

	Daemon struct{} `cmd:"" help:"Run the full service: scheduled ingestion, reporting and the HTTP API."`

	Sync struct{} `cmd:"" help:"Synchronise the repository registry from the catalogue file."`

	Ingest struct{} `cmd:"" help:"Run one ingestion pass over all active repositories."`

	Transform struct {
		Limit int `help:"Maximum raw events to transform, 0 processes everything pending." default:"0"`
	} `cmd:"" help:"Promote pending raw events into typed entities."`

	Report struct {
		Repository string `short:"r" help:"Repository slug (owner/name) to report on." xor:"scope"`
		Project    string `short:"p" help:"Project key to report on." xor:"scope"`
	} `cmd:"" help:"Generate a status report for one repository or project."`

	Catalogue struct {
		Validate struct {
			Path string `arg:"" optional:"" help:"Catalogue file path, defaults to CATALOGUE_PATH."`
		} `cmd:"" help:"Parse and validate a catalogue file."`
	} `cmd:"" help:"Catalogue maintenance commands."`

	Version struct{} `cmd:"" help:"Print version information."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("ghillie"),
		kong.Description("Observational status reporting for GitHub estates."),
		kong.UsageOnError(),
	)

	bootstrap := gerrors.NewCLIErrorAdapter(CLI.Verbose, slog.Default())

	// The env file never overrides variables already set in the real
	// environment, so deployments are unaffected by a stray .env.
	if _, err := os.Stat(CLI.EnvFile); err == nil {
		if err := godotenv.Load(CLI.EnvFile); err != nil {
			bootstrap.HandleError(gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal,
				"load env file "+CLI.EnvFile))
		}
	}

	// version and catalogue validate work without a full configuration.
	switch kctx.Command() {
	case "version":
		fmt.Printf("ghillie %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return
	case "catalogue validate", "catalogue validate <path>":
		bootstrap.HandleError(runCatalogueValidate(os.Stdout, CLI.Catalogue.Validate.Path))
		return
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		bootstrap.HandleError(gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal,
			"load configuration"))
	}

	logger := newLogger(cfg, CLI.Verbose)
	slog.SetDefault(logger)
	adapter := gerrors.NewCLIErrorAdapter(CLI.Verbose, logger)

	switch kctx.Command() {
	case "daemon":
		adapter.HandleError(runDaemon(cfg, logger))
	case "sync":
		adapter.HandleError(runSync(ctx, cfg, logger))
	case "ingest":
		adapter.HandleError(runIngest(ctx, cfg, logger))
	case "transform":
		adapter.HandleError(runTransform(ctx, cfg, logger))
	case "report":
		adapter.HandleError(runReport(ctx, cfg, logger))
	}
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// --verbose forces debug regardless of the configured level.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runDaemon(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}

	if err := d.Start(ctx); err != nil {
		return err
	}

	logger.Info("daemon started; waiting for shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received; stopping daemon")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return d.Stop(stopCtx)
}

func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.CataloguePath == "" {
		return gerrors.ConfigRequired("CATALOGUE_PATH")
	}

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	entities, err := silver.NewStore(db)
	if err != nil {
		return err
	}
	cat, err := catalogue.NewFileStore(cfg.CataloguePath)
	if err != nil {
		return err
	}

	stats, err := registry.New(cat, entities, logger).SyncFromCatalogue(ctx)
	if err != nil {
		return err
	}

	logger.Info("registry synchronised",
		slog.String("revision", cat.Revision()),
		slog.Int("created", stats.Created),
		slog.Int("enabled", stats.Enabled),
		slog.Int("disabled", stats.Disabled),
		slog.Int("unchanged", stats.Unchanged))
	return nil
}

func runIngest(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.CataloguePath == "" {
		return gerrors.ConfigRequired("CATALOGUE_PATH")
	}

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	events, err := bronze.NewStore(db)
	if err != nil {
		return err
	}
	entities, err := silver.NewStore(db)
	if err != nil {
		return err
	}
	cat, err := catalogue.NewFileStore(cfg.CataloguePath)
	if err != nil {
		return err
	}

	var source ingest.ActivitySource
	switch cfg.IngestSource {
	case config.SourceLocal:
		source = github.NewLocalMirrorSource(cfg.LocalMirrorPath, logger)
	default:
		apiSource, err := github.NewAPISource(cfg.GitHubToken, cfg.GitHubAPIURL, cfg.GitHubTimeout, logger)
		if err != nil {
			return err
		}
		source = apiSource
	}

	worker := ingest.NewWorker(cfg.IngestSource, source, cat, events, entities,
		observability.NewLogEmitter(logger), nil, logger)
	return worker.RunAll(ctx)
}

func runTransform(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	events, err := bronze.NewStore(db)
	if err != nil {
		return err
	}
	entities, err := silver.NewStore(db)
	if err != nil {
		return err
	}

	pipeline := transform.NewService(db, events, entities, transform.NewRegistry(), logger)
	stats, err := pipeline.TransformPending(ctx, CLI.Transform.Limit)
	if err != nil {
		return err
	}

	logger.Info("transform pass complete",
		slog.Int("transformed", stats.Transformed),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped))
	return nil
}

func runReport(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if CLI.Report.Repository == "" && CLI.Report.Project == "" {
		return gerrors.ValidationFailed("scope", "either --repository or --project is required")
	}

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	entities, err := silver.NewStore(db)
	if err != nil {
		return err
	}
	reports, err := gold.NewStore(db)
	if err != nil {
		return err
	}

	var projects *evidence.ProjectService
	if CLI.Report.Project != "" {
		if cfg.CataloguePath == "" {
			return gerrors.ConfigRequired("CATALOGUE_PATH")
		}
		cat, err := catalogue.NewFileStore(cfg.CataloguePath)
		if err != nil {
			return err
		}
		projects = evidence.NewProjectService(cat, entities, reports)
	}

	model, err := status.New(status.Options{
		Backend:     cfg.StatusModelBackend,
		APIKey:      cfg.OpenAIAPIKey,
		Endpoint:    cfg.OpenAIEndpoint,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   int64(cfg.OpenAIMaxTokens),
		Timeout:     cfg.OpenAITimeout,
	}, logger)
	if err != nil {
		return err
	}

	var writer *sink.AsyncWriter
	if cfg.SinkEnabled() {
		fsSink, err := sink.NewFilesystemSink(cfg.ReportSinkPath, logger)
		if err != nil {
			return err
		}
		writer = sink.NewAsyncWriter(fsSink, 0, logger)
		defer writer.Close()
	}

	reporter := reporting.NewService(reporting.Config{
		WindowDays:  cfg.ReportingWindowDays,
		MaxAttempts: cfg.ValidationMaxAttempts,
	}, reporting.Deps{
		Entities: entities,
		Reports:  reports,
		Bundles:  evidence.NewService(entities, reports, logger),
		Projects: projects,
		Model:    model,
		Writer:   writer,
		Events:   observability.NewLogEmitter(logger),
		Logger:   logger,
	})

	asOf := time.Now().UTC()

	if CLI.Report.Project != "" {
		result, err := reporter.RunForProject(ctx, CLI.Report.Project, asOf)
		if err != nil {
			return err
		}
		return printRunResult(os.Stdout, "project "+CLI.Report.Project, result)
	}

	owner, name, err := splitSlug(CLI.Report.Repository)
	if err != nil {
		return err
	}
	repo, err := entities.GetRepositoryBySlug(ctx, owner, name)
	if err != nil {
		return err
	}
	if repo == nil {
		return gerrors.RepositoryNotFound(CLI.Report.Repository)
	}

	result, err := reporter.RunForRepository(ctx, repo.ID, asOf)
	if err != nil {
		return err
	}
	return printRunResult(os.Stdout, "repository "+CLI.Report.Repository, result)
}

func runCatalogueValidate(w io.Writer, path string) error {
	if path == "" {
		path = os.Getenv("CATALOGUE_PATH")
	}
	if path == "" {
		return gerrors.ConfigRequired("CATALOGUE_PATH")
	}

	store, err := catalogue.NewFileStore(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	projects, err := store.ListProjects(ctx)
	if err != nil {
		return err
	}
	repos, err := store.ListManagedRepositories(ctx)
	if err != nil {
		return err
	}

	components := 0
	for _, project := range projects {
		list, err := store.ListComponents(ctx, project.Key)
		if err != nil {
			return err
		}
		components += len(list)
	}

	fmt.Fprintf(w, "catalogue %s is valid\n", path)
	fmt.Fprintf(w, "  revision:     %s\n", store.Revision())
	fmt.Fprintf(w, "  projects:     %d\n", len(projects))
	fmt.Fprintf(w, "  components:   %d\n", components)
	fmt.Fprintf(w, "  repositories: %d\n", len(repos))
	return nil
}

// splitSlug splits an owner/name repository slug.
func splitSlug(slug string) (string, string, error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || name == "" {
		return "", "", gerrors.ValidationFailed("repository", "must be owner/name, got "+slug)
	}
	return owner, name, nil
}

func printRunResult(w io.Writer, scope string, result *reporting.RunResult) error {
	if result == nil {
		fmt.Fprintf(w, "%s: no uncovered activity, nothing to report\n", scope)
		return nil
	}

	rep := result.Report
	fmt.Fprintf(w, "%s: report %s generated\n", scope, rep.ID)
	fmt.Fprintf(w, "  status:   %s\n", rep.MachineSummary.Status)
	fmt.Fprintf(w, "  window:   %s to %s\n",
		rep.WindowStart.Format(time.RFC3339), rep.WindowEnd.Format(time.RFC3339))
	fmt.Fprintf(w, "  model:    %s\n", rep.Model)
	fmt.Fprintf(w, "  attempts: %d\n", result.Attempts)
	return nil
}
