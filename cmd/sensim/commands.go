package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/sensim/internal/integrator"
)

var (
	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:           "sensim",
		Short:         "Integrate differential-algebraic systems with exact sensitivities",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sensim %s\n", version)
		},
	}

	backendsCmd = &cobra.Command{
		Use:   "backends",
		Short: "List integration backends",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range integrator.Backends() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	optionsCmd = &cobra.Command{
		Use:   "options",
		Short: "Print the effective integrator options as yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(opts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log integration passes")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "yaml file with integrator options")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(integrateCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(inspectCmd)
	initIntegrateFlags()
	initFitFlags()
}

// loadOptions reads --config over the defaults.
func loadOptions() (integrator.Options, error) {
	if configPath == "" {
		return integrator.DefaultOptions(), nil
	}
	return integrator.LoadOptions(configPath)
}

func newLogger() (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
