package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stacksync/pkg/config"
)

var (
	// Version metadata populated at build time via -ldflags.
	releaseVersion = "dev"
	commit         = "none"

	// Used for flags.
	configPath string
	verbose    bool
	jsonOutput bool

	// cfg is loaded before any subcommand runs
	cfg = config.DefaultConfig()

	rootCmd = &cobra.Command{
		Use:   "stacksync",
		Short: "Inspect, export and compare multi-frame image stacks.",
		Long: `stacksync opens multi-frame TIFF stacks (8/16-bit unsigned, 32-bit integer
or 32-bit float), detects their intensity range, normalizes frames for display
and keeps several stacks synchronized by frame, pan, zoom and intensity window.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			switch {
			case verbose || cfg.Output.Verbose:
				logrus.SetLevel(logrus.DebugLevel)
			case jsonOutput:
				logrus.SetLevel(logrus.WarnLevel)
			default:
				logrus.SetLevel(logrus.InfoLevel)
			}
			return nil
		},
	}
)

func init() {
	// Route logs to stderr to keep stdout clean for --json output.
	logrus.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stacksync.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable detailed logging output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results in JSON format instead of tables")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.Version = releaseVersion
	rootCmd.Annotations = map[string]string{"commit": commit}
	rootCmd.SetVersionTemplate("{{printf \"%s %s\\ncommit: %s\\n\" .DisplayName .Version (index .Annotations \"commit\")}}")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func main() {
	Execute()
}
