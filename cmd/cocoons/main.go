package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/odvcencio/cocoons/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cocoons",
		Short:         "String obfuscation for compilation units",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", config.DefaultFile, "path to the TOML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newStringsCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cocoons "+version)
		},
	}
}

// loadConfig reads the config named by --config and installs the log
// handler on the command's stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := config.DefaultFile
	if f := cmd.Flag("config"); f != nil {
		path = f.Value.String()
	}
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}

	log.SetHandler(cli.New(cmd.ErrOrStderr()))
	level := log.InfoLevel
	if cfg.Log.Level != "" {
		if level, err = log.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	if f := cmd.Flag("verbose"); f != nil && f.Value.String() == "true" {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	return cfg, nil
}
