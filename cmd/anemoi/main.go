// Package main provides the anemoi CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/anemoi/cli"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/storage"
)

const defaultDBPath = ".anemoi/anemoi.db"

var opts = cli.DefaultOptions()

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "anemoi",
		Short: "Resource-aware multi-agent runtime for Coral sessions",
		Long: `Run LLM agents that collaborate through a Coral server.

Each agent refreshes its system prompt from coral:// resources before every
turn, escapes repeating model output by escalating sampling, and submits the
team's answer to the answer server.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (openai, azure, anthropic, deepseek, gemini); defaults to LLM_PROVIDER")
	flags.StringVar(&opts.TeamFile, "team", "", "Team definition YAML (defaults to the built-in six roles)")
	flags.StringVar(&opts.MCPConfig, "mcp-config", "", "Extra MCP servers config file (mcpServers JSON)")
	flags.StringVar(&opts.DBPath, "db", "", "SQLite database for conversations and turn records (defaults to ANEMOI_DB)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (defaults to METRICS_ADDR)")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format: text or json")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd(ctx))
	rootCmd.AddCommand(teamCmd(ctx))
	rootCmd.AddCommand(askCmd(ctx))
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(sessionsCmd(ctx))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "run [role]",
		Short: "Connect one role to Coral and run its prompt loop",
		Long: `Connect one role to the Coral server at CORAL_CONNECTION_URL, send its
initial prompt, then send the loop prompt AGENT_LOOP_ITERATIONS times with
AGENT_LOOP_SLEEP between turns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunRole(ctx, args[0], opts)
		},
	}
}

func teamCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "team [role...]",
		Short: "Run several roles concurrently, each with its own Coral connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunTeam(ctx, args, opts)
		},
	}
}

func askCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [role] [message]",
		Short: "Run a single turn for a role and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ask(ctx, args[0], args[1], opts)
		},
	}
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the roles of the team",
		RunE: func(cmd *cobra.Command, args []string) error {
			team := config.DefaultTeam()
			if opts.TeamFile != "" {
				var err error
				if team, err = config.LoadTeam(opts.TeamFile); err != nil {
					return err
				}
			}
			cli.ListRoles(cmd.OutOrStdout(), team)
			return nil
		},
	}
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List built-in tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.ListTools(cmd.OutOrStdout(), verboseTools)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}

func sessionsCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [session]",
		Short: "List stored sessions, or the turn records of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.DBPath
			if path == "" {
				path = os.Getenv("ANEMOI_DB")
			}
			if path == "" {
				path = defaultDBPath
			}
			store, err := storage.OpenSqlite(path)
			if err != nil {
				return err
			}
			defer store.Close()

			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			return cli.Sessions(ctx, cmd.OutOrStdout(), store, session)
		},
	}
}
