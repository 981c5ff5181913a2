package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/livesession/internal/env"
	"github.com/hubenschmidt/livesession/internal/project"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("livesession command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "livesession",
		Short:         "Real-time voice and vision assistant over the Gemini Live API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", env.Str("LIVESESSION_CONFIG", ""), "YAML config overlay")

	run := newRunCmd(&configPath)
	root.AddCommand(run)
	root.AddCommand(newToolsCmd())
	root.AddCommand(newProjectsCmd(&configPath))
	root.RunE = run.RunE
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the live session and the UI bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()})))
			if cfg.geminiAPIKey == "" {
				return fmt.Errorf("GEMINI_API_KEY is not set")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			err = a.run(ctx)
			cancel()
			a.close()
			return err
		},
	}
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printTools(cmd.OutOrStdout())
		},
	}
}

func newProjectsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List or create projects in the workspace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := openProjects(*configPath)
			if err != nil {
				return err
			}
			names, err := pm.List()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := openProjects(*configPath)
			if err != nil {
				return err
			}
			name, err := pm.Create(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", name)
			return nil
		},
	})
	return cmd
}

func openProjects(configPath string) (*project.Manager, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return project.Open(cfg.workspace)
}
