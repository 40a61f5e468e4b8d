package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogjson"
	"github.com/coder/quartz"
	"github.com/coder/serpent"
	"golang.org/x/xerrors"

	awsclient "github.com/yuxishi/aws-quota-manager/internal/aws"
	"github.com/yuxishi/aws-quota-manager/internal/config"
	"github.com/yuxishi/aws-quota-manager/internal/manager"
	"github.com/yuxishi/aws-quota-manager/internal/model"
	"github.com/yuxishi/aws-quota-manager/internal/usage"
)

type globals struct {
	configPath string
	region     string
	logJSON    bool
	verbose    bool
}

func main() {
	var g globals
	cmd := &serpent.Command{
		Use:   "sqm",
		Short: "Track AWS service quota usage, keep alarms on it and request increases",
		Options: serpent.OptionSet{
			{
				Name:        "config",
				Description: "Path to the application configuration file.",
				Flag:        "config",
				Env:         "SQM_CONFIG",
				Default:     "config.yaml",
				Value:       serpent.StringOf(&g.configPath),
			},
			{
				Name:        "region",
				Description: "AWS region to run in. Overrides the configuration file.",
				Flag:        "region",
				Env:         "SQM_REGION",
				Value:       serpent.StringOf(&g.region),
			},
			{
				Name:        "log-json",
				Description: "Write logs as JSON.",
				Flag:        "log-json",
				Env:         "SQM_LOG_JSON",
				Value:       serpent.BoolOf(&g.logJSON),
			},
			{
				Name:        "verbose",
				Description: "Enable debug logging.",
				Flag:        "verbose",
				Env:         "SQM_VERBOSE",
				Value:       serpent.BoolOf(&g.verbose),
			},
		},
		Children: []*serpent.Command{
			collectCmd(&g),
			increaseCmd(&g),
			invokeCmd(&g),
			serveCmd(&g),
		},
	}

	if err := cmd.Invoke().WithOS().Run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) logger(w io.Writer) slog.Logger {
	var logger slog.Logger
	if g.logJSON {
		logger = slog.Make(slogjson.Sink(w))
	} else {
		logger = slog.Make(sloghuman.Sink(w))
	}
	if g.verbose {
		return logger.Leveled(slog.LevelDebug)
	}
	return logger.Leveled(slog.LevelInfo)
}

// app is everything a command needs to run the manager.
type app struct {
	cfg        *config.Config
	logger     slog.Logger
	dispatcher *manager.Dispatcher
}

func (g *globals) setup(ctx context.Context, logger slog.Logger, onCollected func(model.Snapshot)) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.region != "" {
		cfg.Region = g.region
	}

	awsCfg, err := awsclient.LoadConfig(ctx, cfg.Region)
	if err != nil {
		return nil, xerrors.Errorf("load aws config: %w", err)
	}
	local := awsclient.NewLocalClients(awsCfg)

	var loader config.Loader
	switch {
	case cfg.ConfigFile != "":
		loader = config.FileLoader{Path: cfg.ConfigFile}
	case cfg.ConfigBucket != "" && cfg.ConfigKey != "":
		loader = config.S3Loader{Client: local.S3, Bucket: cfg.ConfigBucket, Key: cfg.ConfigKey}
	default:
		return nil, xerrors.New("no account configuration: set config_file or config_bucket and config_key")
	}

	queries, err := usage.DefaultQueries()
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "loaded configuration",
		slog.F("region", cfg.Region),
		slog.F("max_concurrency", cfg.MaxConcurrency),
		slog.F("filter_percentage", cfg.Collect.FilterPercentage),
	)
	return &app{
		cfg:    cfg,
		logger: logger,
		dispatcher: manager.NewDispatcher(manager.DispatcherOptions{
			Loader:  loader,
			S3:      local.S3,
			Connect: manager.AssumeRoleConnector(awsCfg),
			Logger:  logger,
			Engine: manager.EngineOptions{
				Clock:            quartz.NewReal(),
				Queries:          queries,
				FilterPercentage: cfg.Collect.FilterPercentage,
			},
			MaxConcurrency: cfg.MaxConcurrency,
			OnCollected:    onCollected,
		}),
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
