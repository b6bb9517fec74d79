package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkgraph/pkgraph-go/internal/config"
	"github.com/pkgraph/pkgraph-go/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pkgraph",
	Short: "pkgraph - knowledge graph construction for package ecosystems",
	Long: `pkgraph ingests package indexes, bug trackers and maintainer rosters
into a property graph: packages, maintainers, bugs and the typed
relations between them, with identity resolution and invariant checks.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logCfg := logging.DefaultConfig(verbose)
		logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
		if verbose {
			logCfg.Level = logging.DEBUG
		}
		if cfg.Logging.File != "" {
			logCfg.OutputFile = cfg.Logging.File
		}
		if cfg.Logging.JSONFormat {
			logCfg.JSONFormat = true
		}
		return logging.Initialize(logCfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .pkgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`pkgraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(configureCmd)
}
