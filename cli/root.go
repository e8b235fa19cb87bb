package cli

import (
	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/pkg/logger"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowmatic",
		Short:         "Flowmatic workflow engine",
		Long:          "Parse, validate and securely execute YAML workflow definitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, asJSON, withSource, err := logger.GetLoggerConfig(cmd)
			if err != nil {
				return err
			}
			logger.SetupLogger(level, asJSON, withSource)
			return nil
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "Include source locations in logs")

	root.AddCommand(
		RunCmd(),
		ValidateCmd(),
		ExportCmd(),
	)

	return root
}
