package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/engine/workflow"
)

func ExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <workflow-file>",
		Short: "Parse a workflow and re-serialize its normalized form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}
			outPath, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := workflow.ExportFile(wf, outPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported workflow to %s\n", outPath)
				return nil
			}
			data, err := workflow.Export(wf)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Destination file (defaults to stdout)")
	return cmd
}
