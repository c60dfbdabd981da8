package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtxerr/nrcsync/internal/loader"
)

type options struct {
	configPath string
	listen     string
	dataDir    string
	dbPath     string
	token      string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:           "nrcsyncd",
		Short:         "Ingest reconciliation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "nrcsync.yaml", "config file path")
	root.PersistentFlags().StringVar(&opts.listen, "listen", "", "listen address (overrides config)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "auth token (or NRCSYNC_TOKEN env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(newRunCommand(&opts))
	root.AddCommand(newCheckCommand(&opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})
	return root
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}

// load reads the config file, applies flag overrides and validates. A
// missing file is not an error: the defaults are used.
func (o *options) load() (*loader.Config, error) {
	cfg, err := loader.Load(o.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = loader.DefaultConfig()
	}

	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	token := o.token
	if token == "" {
		token = os.Getenv("NRCSYNC_TOKEN")
	}
	if token != "" && len(cfg.Auth.Tokens) == 0 {
		cfg.Auth.Tokens = []string{token}
	}

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
