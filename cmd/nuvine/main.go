// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/nuvine"
	"github.com/poiesic/nuvine/config"
	"github.com/poiesic/nuvine/core"
	"github.com/poiesic/nuvine/pipeline"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "nuvine",
		Usage: "Event-driven document embedding pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run pipeline workers until interrupted",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "worker",
						Aliases: []string{"w"},
						Usage:   "Worker to run (repeatable); defaults to the configured set",
					},
				},
			},
			{
				Name:      "upload",
				Usage:     "Announce a stored document",
				ArgsUsage: "<document.json>",
				Action:    uploadCommand,
			},
			{
				Name:      "submit",
				Usage:     "Submit extracted chunks for embedding",
				ArgsUsage: "<processing-request.json>",
				Action:    submitCommand,
			},
			{
				Name:  "jobs",
				Usage: "Inspect embedding jobs",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Show an embedding job",
						ArgsUsage: "<job-id>",
						Action:    jobsGetCommand,
					},
					{
						Name:   "latest",
						Usage:  "Show the newest embedding job for a document",
						Action: jobsLatestCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "document",
								Aliases:  []string{"d"},
								Usage:    "Document ID",
								Required: true,
							},
						},
					},
					{
						Name:   "stale",
						Usage:  "List unfinished or unindexed jobs with no recent update",
						Action: jobsStaleCommand,
						Flags: []cli.Flag{
							&cli.DurationFlag{
								Name:  "older-than",
								Usage: "Idle threshold; zero uses the configured value",
							},
						},
					},
				},
			},
			{
				Name:  "dlq",
				Usage: "Inspect and replay dead letters",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List archived dead letters",
						Action: dlqListCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "topic",
								Usage: "Original topic to filter on",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of entries",
								Value: 50,
							},
						},
					},
					{
						Name:   "redrive",
						Usage:  "Replay eligible dead letters once",
						Action: dlqRedriveCommand,
					},
				},
			},
			{
				Name:   "breakers",
				Usage:  "Show circuit breaker state",
				Action: breakersCommand,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openService(c *cli.Context, cfg *config.Config) (*nuvine.Service, error) {
	svc, err := nuvine.New(c.Context, cfg, nuvine.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open service: %w", err)
	}
	return svc, nil
}

// withService opens the configured service, runs fn and closes it.
func withService(c *cli.Context, fn func(svc *nuvine.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("failed to close service", "err", err)
		}
	}()
	return fn(svc)
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if workers := c.StringSlice("worker"); len(workers) > 0 {
		cfg.Pipeline.Workers = make([]pipeline.Worker, 0, len(workers))
		for _, w := range workers {
			cfg.Pipeline.Workers = append(cfg.Pipeline.Workers, pipeline.Worker(strings.ToLower(w)))
		}
		if err := cfg.Pipeline.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("failed to close service", "err", err)
		}
	}()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func uploadCommand(c *cli.Context) error {
	var ev core.DocumentUploaded
	if err := readJSONArg(c, &ev); err != nil {
		return err
	}
	return withService(c, func(svc *nuvine.Service) error {
		id, err := svc.Upload(c.Context, ev)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Fprintln(c.App.Writer, id)
		return nil
	})
}

func submitCommand(c *cli.Context) error {
	var req core.ProcessingRequest
	if err := readJSONArg(c, &req); err != nil {
		return err
	}
	return withService(c, func(svc *nuvine.Service) error {
		if err := svc.Submit(c.Context, req); err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "submitted %d chunks for document %s\n", len(req.Chunks), req.DocumentID)
		return nil
	})
}

func jobsGetCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	return withService(c, func(svc *nuvine.Service) error {
		job, err := svc.EmbeddingJob(c.Context, id)
		if err != nil {
			return err
		}
		printJobs(c, job)
		return nil
	})
}

func jobsLatestCommand(c *cli.Context) error {
	return withService(c, func(svc *nuvine.Service) error {
		job, err := svc.LatestEmbeddingJob(c.Context, c.String("document"))
		if err != nil {
			return err
		}
		printJobs(c, job)
		return nil
	})
}

func jobsStaleCommand(c *cli.Context) error {
	return withService(c, func(svc *nuvine.Service) error {
		stale, err := svc.StaleJobs(c.Context, c.Duration("older-than"))
		if err != nil {
			return err
		}
		printJobs(c, stale...)
		return nil
	})
}

func dlqListCommand(c *cli.Context) error {
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
	return withService(c, func(svc *nuvine.Service) error {
		letters, err := svc.DeadLetters(c.Context, c.String("topic"), c.Int("limit"))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTOPIC\tKEY\tATTEMPTS\tCLASS\tLAST FAILED\tERROR")
		for _, env := range letters {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				env.ID, env.OriginalTopic, env.MessageKey, env.AttemptCount,
				env.ErrorClass, env.LastFailedAt.Format(time.RFC3339), env.ErrorMessage)
		}
		return w.Flush()
	})
}

func dlqRedriveCommand(c *cli.Context) error {
	return withService(c, func(svc *nuvine.Service) error {
		n, err := svc.Redrive(c.Context)
		if err != nil {
			return fmt.Errorf("redrive failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "redrove %d dead letters\n", n)
		return nil
	})
}

func breakersCommand(c *cli.Context) error {
	return withService(c, func(svc *nuvine.Service) error {
		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tSTATE\tCALLS\tFAILURES\tRETRY AFTER")
		for _, st := range svc.Breakers() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", st.Key, st.State, st.Calls, st.Failures, st.RetryAfter)
		}
		return w.Flush()
	})
}

func printJobs(c *cli.Context, list ...*core.EmbeddingJob) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOCUMENT\tSTATUS\tPROGRESS\tCHUNKS\tMODEL\tUPDATED")
	for _, job := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d/%d\t%s\t%s\n",
			job.ID, job.DocumentID, job.Status, job.Progress(),
			job.ProcessedChunks, job.TotalChunks, job.ModelUsed,
			job.UpdatedAt.Format(time.RFC3339))
		if job.LastError != "" {
			fmt.Fprintf(w, "\terror: %s\n", job.LastError)
		}
	}
	w.Flush()
}

func readJSONArg(c *cli.Context, v any) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("input file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
