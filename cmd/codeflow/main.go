package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tmnabeel30/CodeFlow-CLI/src"
)

var (
	flagModel     string
	flagWorkspace string
	flagYes       bool
	flagTimeout   time.Duration
	flagVerbose   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codeflow",
		Short: "Interactive coding assistant for your workspace",
		Long: "CodeFlow chats about your code, proposes file changes as reviewable\n" +
			"diffs, and decomposes big goals into executable steps.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := src.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.InteractiveMode {
				return cmd.Help()
			}
			return runChat()
		},
	}

	root.PersistentFlags().StringVar(&flagModel, "model", "", "model ID or alias to use")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace root (default: current directory)")
	root.PersistentFlags().BoolVar(&flagYes, "yes", false, "apply all proposed changes without prompting")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "per-call API timeout (default 60s)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newChatCmd(), newRunCmd(), newReviewCmd(), newModelsCmd(), newGoalCmd(), newMCPCmd())
	return root
}

// app bundles what every API-backed command needs.
type app struct {
	cfg     *src.Config
	logger  *zap.Logger
	client  *src.Client
	session *src.SessionState
	store   *src.TranscriptStore
}

func buildApp(tui bool) (*app, error) {
	var logger *zap.Logger
	var err error
	if tui {
		// The TUI owns the terminal; logs go to a file
		logger, err = src.NewLogger(flagVerbose)
	} else {
		logger, err = src.NewStderrLogger(flagVerbose)
	}
	if err != nil {
		return nil, err
	}

	cfg, err := src.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagModel != "" {
		info, err := src.ResolveModel(flagModel)
		if err != nil {
			return nil, err
		}
		cfg.DefaultModel = info.ID
	}

	client, err := src.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if flagTimeout > 0 {
		client.SetTimeout(flagTimeout)
	}

	session := src.NewSessionState(cfg.DefaultModel, cfg.MaxHistory)

	var store *src.TranscriptStore
	if cfg.AutoSave {
		dir, err := src.HistoryDir()
		if err != nil {
			return nil, err
		}
		store = src.NewTranscriptStore(dir, logger)
	}

	return &app{cfg: cfg, logger: logger, client: client, session: session, store: store}, nil
}

func workspaceRoot() (string, error) {
	if flagWorkspace != "" {
		return flagWorkspace, nil
	}
	return os.Getwd()
}

// bindWorkspace scans the workspace and builds the review engine around
// the terminal reviewer (or auto-approval with --yes).
func (a *app) bindWorkspace(root string) (*src.Workspace, *src.ReviewEngine, error) {
	ws, err := src.NewWorkspace(root, a.logger)
	if err != nil {
		return nil, nil, err
	}
	files, err := ws.Scan()
	if err != nil {
		return nil, nil, err
	}

	var reviewer src.Reviewer = src.NewTerminalReviewer(os.Stdin, os.Stdout, 0)
	if flagYes {
		reviewer = src.AutoApprove{}
	}
	review := src.NewReviewEngine(ws, reviewer, a.logger)

	structure := ws.Structure()
	a.session.WorkspacePath = root
	a.session.AccessibleFiles = len(files)
	a.session.ProjectType = structure.Type
	return ws, review, nil
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive TUI (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

func runChat() error {
	app, err := buildApp(true)
	if err != nil {
		return err
	}
	defer func() { _ = app.logger.Sync() }()

	startDir, err := workspaceRoot()
	if err != nil {
		return err
	}

	ctx := context.Background()
	m := src.NewModel(ctx, app.cfg, app.client, app.session, app.store, startDir, app.logger)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.Program = p // Give the model a reference to the program.
	if _, err := p.Run(); err != nil {
		return err
	}

	if app.cfg.FirstRun {
		app.cfg.FirstRun = false
		if err := app.cfg.Save(); err != nil {
			app.logger.Warn("config save failed", zap.Error(err))
		}
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one prompt headlessly",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return errors.New(`run needs a prompt: codeflow run -p "..."`)
			}

			app, err := buildApp(false)
			if err != nil {
				return err
			}
			root, err := workspaceRoot()
			if err != nil {
				return err
			}
			ws, review, err := app.bindWorkspace(root)
			if err != nil {
				return err
			}

			pipeline := src.NewPipeline(app.client, ws, app.session, review, app.logger)
			pipeline.Transcript = app.store

			result, err := pipeline.Run(context.Background(), prompt)
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimSpace(result.Response))
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt to process")
	return cmd
}

func newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <response-file>",
		Short: "Batch-review file changes from a saved model response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			changes := src.MarkerExtractor{}.Extract(string(data))
			if len(changes) == 0 {
				fmt.Println("No file changes found in response.")
				return nil
			}

			// Reviewing a saved response needs no API client
			logger, err := src.NewStderrLogger(flagVerbose)
			if err != nil {
				return err
			}
			root, err := workspaceRoot()
			if err != nil {
				return err
			}
			ws, err := src.NewWorkspace(root, logger)
			if err != nil {
				return err
			}
			if _, err := ws.Scan(); err != nil {
				return err
			}

			var reviewer src.Reviewer = src.NewTerminalReviewer(os.Stdin, os.Stdout, 0)
			if flagYes {
				reviewer = src.AutoApprove{}
			}
			engine := src.NewReviewEngine(ws, reviewer, logger)

			decision, results := engine.ReviewAll(context.Background(), changes)
			printReviewResults(decision, results)
			return nil
		},
	}
}

func printReviewResults(decision src.BatchDecision, results []src.ReviewResult) {
	applied := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			fmt.Printf("❌ %s: %v\n", res.Path, res.Err)
		case res.Applied && res.BackupPath != "":
			applied++
			fmt.Printf("✅ Applied: %s (backup: %s)\n", res.Path, res.BackupPath)
		case res.Applied:
			applied++
			fmt.Printf("✅ Applied: %s\n", res.Path)
		case res.Unchanged:
			fmt.Printf("No changes detected: %s\n", res.Path)
		default:
			fmt.Printf("⏭️ Skipped: %s\n", res.Path)
		}
	}
	if applied == 0 && decision == src.BatchNone {
		fmt.Println("No changes applied.")
		return
	}
	fmt.Printf("%d of %d changes applied.\n", applied, len(results))
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := src.LoadConfig()
			if err != nil {
				return err
			}
			active := cfg.DefaultModel
			if flagModel != "" {
				info, err := src.ResolveModel(flagModel)
				if err != nil {
					return err
				}
				active = info.ID
			}
			for _, info := range src.Catalog() {
				marker := " "
				if info.ID == active {
					marker = "*"
				}
				fmt.Printf("%s %-24s %-16s %9d  %s\n", marker, info.ID, "["+info.Alias+"]", info.ContextWindow, info.Description)
			}
			return nil
		},
	}
}

func newGoalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goal <description>",
		Short: "Decompose a goal and execute it step by step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := strings.Join(args, " ")

			app, err := buildApp(false)
			if err != nil {
				return err
			}
			root, err := workspaceRoot()
			if err != nil {
				return err
			}
			ws, review, err := app.bindWorkspace(root)
			if err != nil {
				return err
			}

			engine := src.NewGoalEngine(app.client, ws, src.MarkerExtractor{}, review, app.cfg.DefaultModel, app.logger)
			engine.Progress = func(goal *src.Goal, sub *src.SubGoal) {
				if sub == nil {
					return
				}
				fmt.Printf("  [%s] %s\n", sub.Status, sub.Description)
			}

			goal, err := engine.Execute(context.Background(), desc, desc)
			if goal != nil {
				fmt.Println(src.FormatGoalSummary(goal))
			}
			return err
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "About the MCP workspace server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Workspace tools are served by the codeflow-mcp binary:")
			fmt.Println()
			fmt.Println("  CODEFLOW_ROOT=/path/to/project codeflow-mcp")
			fmt.Println()
			fmt.Println("It speaks MCP over stdio and exposes search_codebase, read_file,")
			fmt.Println("write_file, list_files and project_structure to MCP clients.")
			return nil
		},
	}
}
