package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recera/lcars/internal/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "lcars",
		Short: "LCARS panel display",
		Long: `lcars shows LCARS panels. Without flags the panel and the screen run in
one process. With --server the process serves panels to remote screens; with
--clientof it shows the panels a server sends.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.flags = cmd.Flags()
			return run(cmd.Context(), opts)
		},
	}

	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", config.FileName, "Configuration file")
	f.BoolVar(&opts.debug, "debug", false, "Log at debug level")
	f.BoolVar(&opts.server, "server", false, "Serve panels to remote screens")
	f.StringVar(&opts.panel, "panel", "", "Panel to show")
	f.StringVar(&opts.clientOf, "clientof", "", "Show the panels served by this host")
	f.StringVar(&opts.display, "display", "", "Display: terminal or headless")
	f.StringVar(&opts.capture, "capture", "", "PNG file the headless display writes after each paint")
	f.IntVar(&opts.port, "port", 0, "Port adapters are exported on")
	f.StringVar(&opts.hostName, "host-name", "", "Host name announced to peers (defaults to the system host name)")
	rootCmd.MarkFlagsMutuallyExclusive("server", "clientof")

	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lcars %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
