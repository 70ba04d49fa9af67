package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/memtensor/manageusers/api"
	"github.com/memtensor/manageusers/mcp"
	"github.com/memtensor/manageusers/pkg/batch"
	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/passwords"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

func newBatchCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Reconcile every record of a batch file (- for stdin)",
		Long: `Reads records in the line format (one "USERNAME EMAIL [flags]" per line)
or as YAML (a top-level "users" list). Each record runs in its own transaction;
failures are reported and the remaining records still run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			batchFormat := types.BatchFormat(format)
			if format == "" {
				batchFormat = batch.DetectFormat(path)
			}

			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open batch file: %w", err)
				}
				defer f.Close()
				in = f
			}

			entries, err := batch.Parse(in, batchFormat)
			if err != nil {
				return err
			}

			manager, err := a.openManager()
			if err != nil {
				return err
			}
			report := batch.NewRunner(manager, a.logger, a.metrics).Run(cmd.Context(), entries)

			if err := a.print(cmd.OutOrStdout(), report, func(w io.Writer) { printReport(w, report) }); err != nil {
				return err
			}
			if report.Failed() > 0 {
				return fmt.Errorf("%s", report.Summary())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Batch format (lines, yaml); detected from the file extension when empty")
	return cmd
}

func newGroupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage the groups accounts can be assigned to",
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager()
			if err != nil {
				return err
			}
			group, err := manager.CreateGroup(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), group, func(w io.Writer) {
				fmt.Fprintf(w, "group %s created\n", group.Name)
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "Group description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.openManager()
			if err != nil {
				return err
			}
			groups, err := manager.ListGroups(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), groups, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDESCRIPTION")
				for _, g := range groups {
					fmt.Fprintf(tw, "%s\t%s\n", g.Name, g.Description)
				}
				tw.Flush()
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect accounts",
	}

	show := &cobra.Command{
		Use:   "show USERNAME",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager()
			if err != nil {
				return err
			}
			user, err := manager.GetUserByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), user, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "username\t%s\n", user.UserName)
				fmt.Fprintf(tw, "email\t%s\n", user.Email)
				fmt.Fprintf(tw, "staff\t%t\n", user.IsStaff)
				fmt.Fprintf(tw, "superuser\t%t\n", user.IsSuperuser)
				fmt.Fprintf(tw, "usable password\t%t\n", passwords.IsUsable(user.Password))
				fmt.Fprintf(tw, "groups\t%s\n", strings.Join(user.GroupNames(), ", "))
				fmt.Fprintf(tw, "profile\t%t\n", user.Profile != nil)
				fmt.Fprintf(tw, "created\t%s\n", user.CreatedAt.Format(time.RFC3339))
				tw.Flush()
			})
		},
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts ordered by username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.openManager()
			if err != nil {
				return err
			}
			accounts, total, err := manager.ListUsers(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), accounts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tEMAIL\tSTAFF\tSUPERUSER\tGROUPS")
				for _, u := range accounts {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n",
						u.UserName, u.Email, u.IsStaff, u.IsSuperuser, strings.Join(u.GroupNames(), ","))
				}
				tw.Flush()
				fmt.Fprintf(w, "%d of %d accounts\n", len(accounts), total)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "Maximum number of accounts")
	list.Flags().IntVar(&offset, "offset", 0, "Number of accounts to skip")

	cmd.AddCommand(show, list)
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.logger.Level() != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			manager, err := a.openManager()
			if err != nil {
				return err
			}

			opts := []api.ServerOption{api.WithVersion(Version)}
			if a.prom != nil {
				opts = append(opts, api.WithPrometheus(a.prom))
			}
			server, err := api.NewServer(manager, a.cfg.API, a.logger, opts...)
			if err != nil {
				return err
			}

			// Only the log level is applied live; other settings need a restart.
			a.loader.Watch(func(cfg *config.Config) {
				if a.logLevel == "" && cfg.Logging.Level != a.logger.Level() {
					a.logger.SetLevel(cfg.Logging.Level)
					a.logger.Info("Log level reloaded", map[string]interface{}{"level": cfg.Logging.Level})
				}
			}, func(err error) {
				a.logger.Error("Ignoring invalid configuration reload", err)
			})

			a.logger.Info("Starting manage-user API", map[string]interface{}{
				"version":    Version,
				"build_time": BuildTime,
				"git_commit": GitCommit,
			})
			return server.Start(cmd.Context())
		},
	}
}

func newMCPCmd(a *app) *cobra.Command {
	var opts mcp.Options

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve account tools to an MCP client over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.openManager()
			if err != nil {
				return err
			}
			opts.Version = Version
			return mcp.NewServer(manager, opts, a.logger).Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&opts.Operator, "operator", "mcp", "Operator recorded in audit entries")
	cmd.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "Offer only the read tools")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var scopes []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token OPERATOR",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = a.cfg.API.TokenTTL
			}
			issuer, err := api.NewTokenIssuer(a.cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(args[0], scopes)
			if err != nil {
				return err
			}

			payload := map[string]interface{}{
				"token":      token,
				"operator":   args[0],
				"scope":      strings.Join(scopes, " "),
				"expires_at": expiresAt.UTC().Format(time.RFC3339),
			}
			return a.print(cmd.OutOrStdout(), payload, func(w io.Writer) { fmt.Fprintln(w, token) })
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", []string{api.ScopeRead}, "Token scopes (accounts:read, accounts:write)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to api.token_ttl)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write the default configuration to PATH",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil && !force {
				return errors.NewAlreadyExistsError("config file " + args[0])
			}
			if err := config.Default().ToYAMLFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.print(cmd.OutOrStdout(), a.cfg, func(w io.Writer) {
				fmt.Fprintf(w, "database: %s (%s)\n", a.cfg.Database.Path, a.cfg.Database.Type)
				fmt.Fprintf(w, "password schemes: %s\n", strings.Join(a.cfg.Passwords.Schemes, ", "))
				fmt.Fprintf(w, "profiles: %t\n", a.cfg.Profiles.Enabled)
				fmt.Fprintf(w, "audit: %t\n", a.cfg.Audit.Enabled)
				fmt.Fprintf(w, "log level: %s\n", a.cfg.Logging.Level)
				fmt.Fprintf(w, "api: %s:%d\n", a.cfg.API.Host, a.cfg.API.Port)
			})
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "manage-user %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Time: %s\n", BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "Git Commit: %s\n", GitCommit)
		},
	}
}

// print writes v as JSON with --output json, otherwise calls text
func (a *app) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if a.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printOutcome(w io.Writer, o *users.Outcome) {
	details := append([]string{}, o.Changes...)
	for _, g := range o.AddedGroups {
		details = append(details, "+"+g)
	}
	for _, g := range o.RemovedGroups {
		details = append(details, "-"+g)
	}
	if o.ProfileCreated {
		details = append(details, "profile created")
	}

	fmt.Fprintf(w, "%s: %s", o.Username, o.Action)
	if len(details) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(details, "; "))
	}
	fmt.Fprintln(w)
}

func printReport(w io.Writer, r *batch.Report) {
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "%s: %s: failed: %s\n", res.Source, res.Username, errorMessage(res.Err))
			continue
		}
		fmt.Fprintf(w, "%s: ", res.Source)
		printOutcome(w, res.Outcome)
	}
	fmt.Fprintln(w, r.Summary())
}

func errorMessage(err error) string {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr.Message
	}
	return err.Error()
}
