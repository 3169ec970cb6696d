package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"EduPipeline/internal/app"
	"EduPipeline/internal/config"
	"EduPipeline/internal/domain"
	"EduPipeline/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	if err := newCLI(cfg, logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}

func newCLI(cfg config.Config, logger *slog.Logger) *cli.App {
	withApp := func(fn func(c *cli.Context, a *app.Application) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			a, err := app.New(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("close application", "error", err)
				}
			}()
			return fn(c, a)
		}
	}

	stageCommand := func(stage domain.Stage, usage string) *cli.Command {
		return &cli.Command{
			Name:  string(stage),
			Usage: usage,
			Action: withApp(func(c *cli.Context, a *app.Application) error {
				_, err := a.RunStage(c.Context, stage)
				return err
			}),
		}
	}

	return &cli.App{
		Name:  "edupipeline",
		Usage: "Ingest, enrich and index educational documents",
		Commands: []*cli.Command{
			stageCommand(domain.StageExtract, "Populate documents listed in the batch id file"),
			stageCommand(domain.StageVectorize, "Slice and embed extracted documents"),
			stageCommand(domain.StageClassify, "Label vectorized documents with SDGs"),
			stageCommand(domain.StageKeywords, "Attach keywords to classified documents"),
			stageCommand(domain.StageIndex, "Synchronize documents with the vector index"),
			{
				Name:  "pipeline",
				Usage: "Run every processing stage over the batch id file",
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					_, err := a.RunPipeline(c.Context)
					return err
				}),
			},
			{
				Name:  string(domain.StageSanitary),
				Usage: "Probe indexed documents whose source may have vanished",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "corpus", Usage: "Restrict probes to one corpus"},
					&cli.DurationFlag{Name: "every", Usage: "Repeat probes at this interval until interrupted", Value: 0},
				},
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					return a.Sanitize(c.Context, c.String("corpus"), c.Duration("every"))
				}),
			},
			{
				Name:  "batches",
				Usage: "Split eligible documents into one id file per worker",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "stage", Usage: "Stage the batches feed", Required: true},
					&cli.StringFlag{Name: "corpus", Usage: "Restrict batches to one corpus"},
					&cli.IntFlag{Name: "workers", Usage: "Number of batch files", Value: 1},
				},
				Before: func(c *cli.Context) error {
					_, err := parseStage(c.String("stage"))
					return err
				},
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					stage, _ := parseStage(c.String("stage"))
					n, err := a.GenerateBatches(c.Context, stage, c.String("corpus"), c.Int("workers"))
					if err != nil {
						return err
					}
					logger.Info("batches written", "stage", stage, "batches", n)
					return nil
				}),
			},
			{
				Name:  "collect",
				Usage: "Register new document urls announced by a corpus",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "corpus", Usage: "Corpus to collect", Required: true},
				},
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					n, err := a.Collect(c.Context, c.String("corpus"))
					if err != nil {
						return err
					}
					logger.Info("urls registered", "corpus", c.String("corpus"), "documents", n)
					return nil
				}),
			},
			{
				Name:  "schema",
				Usage: "Create the database tables",
				Action: func(c *cli.Context) error {
					return app.BootstrapSchema(c.Context, cfg)
				},
			},
		},
	}
}

// parseStage accepts the stage names used on the command line.
func parseStage(raw string) (domain.Stage, error) {
	stage := domain.Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch stage {
	case domain.StageExtract, domain.StageVectorize, domain.StageClassify,
		domain.StageKeywords, domain.StageIndex, domain.StageSanitary:
		return stage, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}
