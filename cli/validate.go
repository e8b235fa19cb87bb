package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/engine/workflow"
)

func ValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Parse and validate a workflow without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := workflow.NewParser()
			wf, err := parser.ParseFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow %q (version %s) is valid\n", wf.Name, wf.Version)
			fmt.Fprintf(out, "Execution order: %v\n", wf.ExecutionOrder)
			for _, issue := range parser.Lint(wf) {
				fmt.Fprintf(out, "warning: %s\n", issue)
			}
			return nil
		},
	}
	return cmd
}
