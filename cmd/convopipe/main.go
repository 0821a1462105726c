// Package main wires the orchestrator's collaborators together and
// exposes the Control Plane operations from section 4.8 as cobra
// subcommands, in the style of a sibling pack repo's CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gurre/convopipe/blobstore"
	"github.com/gurre/convopipe/bucket"
	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/deliver"
	"github.com/gurre/convopipe/logging"
	"github.com/gurre/convopipe/metrics"
	"github.com/gurre/convopipe/orchestrator"
	"github.com/gurre/convopipe/taskqueue"
	"github.com/gurre/convopipe/transcript"
	"github.com/gurre/convopipe/watcher"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "convopipe",
		Short: "Audio transcription processing orchestrator",
		Long: `convopipe watches an uploads area for audio recordings, drives each
through an asynchronous transcription service, persists the result, and
delivers it to a downstream ingest API.`,
	}

	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(pauseCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(restartCmd())
	root.AddCommand(configCmd())
	return root
}

func buildOrchestrator() (*orchestrator.Orchestrator, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	log, err := logging.New(settings.LogLevel, settings.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	log = log.With(logging.RunField(uuid.New()))

	var backend blobstore.Backend
	switch settings.Backend {
	case "s3":
		backend, err = blobstore.NewDefaultS3Backend(context.Background(), settings.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to build s3 backend: %w", err)
		}
	default:
		backend, err = blobstore.NewLocalBackend(settings.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to build local backend: %w", err)
		}
	}

	manager := bucket.New(backend, settings)
	queue := taskqueue.New(settings.TaskQueueMaxSize)
	w := watcher.New(manager, queue, settings, log)
	m := metrics.NewCollector()
	t := transcript.New(settings)
	d := deliver.New(settings)

	return orchestrator.New(settings, manager, w, queue, m, t, d, log), nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if err := o.Start(ctx); err != nil {
				return fmt.Errorf("failed to start orchestrator: %w", err)
			}
			<-ctx.Done()
			o.Stop()
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print running/paused state, worker progress, and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return printJSON(o.GetStatus(ctx))
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the Watcher's scan loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			o.Pause()
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused Watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			o.Resume()
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	var poolOnly bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the orchestrator, or just the worker pool with --pool-only",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if poolOnly {
				return o.RestartWorkerPool(ctx)
			}
			return o.Restart(ctx)
		},
	}
	cmd.Flags().BoolVar(&poolOnly, "pool-only", false, "restart only the worker pool (restartWorkerPool)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or mutate live Settings",
	}
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current Settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			return printJSON(o.GetConfig())
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field>=<value> [<field>=<value> ...]",
		Short: "Apply a partial patch to Settings; concurrency fields trigger a worker-pool restart",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parsePatch(args)
			if err != nil {
				return err
			}
			o, err := buildOrchestrator()
			if err != nil {
				return err
			}
			return o.UpdateConfig(context.Background(), patch)
		},
	}
}

func parsePatch(args []string) (map[string]any, error) {
	patch := make(map[string]any)
	for _, arg := range args {
		idx := indexOf(arg, '=')
		if idx < 0 {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		value := arg[idx+1:]
		if n, err := strconv.Atoi(value); err == nil {
			patch[arg[:idx]] = n
			continue
		}
		patch[arg[:idx]] = value
	}
	return patch, nil
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
