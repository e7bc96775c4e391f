package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hnmirror",
		Short: "Mirror Hacker News front-page stories into a local SQLite store",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(refreshCmd())
	root.AddCommand(topCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(backupCmd())

	return root
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle and print the resulting log row",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh()
		},
	}
}

func topCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the mirrored top stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 5, "max stories to show (1-10)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last refresh log entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage store file backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Snapshot the store file into the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupCreate()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name>",
		Short: "Restore the store file from a named backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupRestore(args[0])
		},
	})

	return cmd
}
