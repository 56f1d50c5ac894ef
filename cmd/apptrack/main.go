package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command
type RunFlags struct {
	Track []string
}

// OutputFlags selects machine-readable output
type OutputFlags struct {
	JSON bool
}

// ConfigInitFlags holds flags for config init
type ConfigInitFlags struct {
	Force bool
}

// buildRoot creates the root command with all subcommands attached
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	psFlags := &OutputFlags{}
	statusFlags := &OutputFlags{}
	initFlags := &ConfigInitFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(c, globalFlags, runFlags),
		createPsCommand(c, globalFlags, psFlags),
		createStatusCommand(c, globalFlags, statusFlags),
		createRenameCommand(c, globalFlags),
		createDeleteCommand(c, globalFlags),
		createBadgesCommand(c),
		createConfigCommand(c, globalFlags, initFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "apptrack",
		Short: "Track how long your applications run",
		Long: `Apptrack watches the applications you choose, accumulates how long
they run across restarts, awards milestone badges and keeps everything
in a local JSON file.

Examples:
  apptrack config init              # write apptrack.toml with defaults
  apptrack run --track code         # start tracking in the foreground
  apptrack status                   # show tracked apps
  apptrack rename code "VS Code"`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(c command, globalFlags *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracking engine in the foreground",
		Long: `Run loads the stats file, starts tracking the configured apps and
resumes previously tracked apps whenever they are running. All logs are
saved on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), cmd.OutOrStdout(), *globalFlags, *flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.Track, "track", nil, "additional process names to track (repeatable)")
	return cmd
}

func createPsCommand(c command, globalFlags *GlobalFlags, flags *OutputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running processes, marking tracked ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ps(cmd.Context(), cmd.OutOrStdout(), *globalFlags, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createStatusCommand(c command, globalFlags *GlobalFlags, flags *OutputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked apps and their uptime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *globalFlags, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createRenameCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <process> [display-name]",
		Short: "Set the display name of a tracked app",
		Long: `Set the display name of a tracked app. Without a display name the
process name is shown again.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			display := ""
			if len(args) == 2 {
				display = args[1]
			}
			return c.Rename(cmd.Context(), cmd.OutOrStdout(), *globalFlags, args[0], display)
		},
	}
}

func createDeleteCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <process>",
		Aliases: []string{"untrack"},
		Short:   "Stop tracking an app and delete its log",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Delete(cmd.Context(), cmd.OutOrStdout(), *globalFlags, args[0])
		},
	}
}

func createBadgesCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "Print the badge ladder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Badges(cmd.OutOrStdout())
		},
	}
}

func createConfigCommand(c command, globalFlags *GlobalFlags, flags *ConfigInitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return c.ConfigInit(cmd.OutOrStdout(), path, flags.Force)
		},
	}
	initCmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
