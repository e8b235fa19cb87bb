package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/orchestrator"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflow,
	}

	cmd.Flags().String("inputs", "", "Workflow inputs as a JSON object")
	cmd.Flags().String("execution-id", "", "Explicit execution id (defaults to a generated one)")
	cmd.Flags().String("resume-from", "", "Skip steps before this step id")
	cmd.Flags().Bool("no-cache", false, "Bypass the step result cache")
	cmd.Flags().Bool("dry-run", false, "Plan the execution order without running steps")
	cmd.Flags().String("profile", "", "Security profile override (plan_only, restricted, standard, elevated)")
	cmd.Flags().StringP("output", "o", "", "Write the execution record as JSON to this file")

	return cmd
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.GetDefault()

	wf, err := workflow.NewParser().ParseFile(args[0])
	if err != nil {
		return err
	}

	inputs, err := parseInputsFlag(cmd)
	if err != nil {
		return err
	}
	opts, err := parseRunOptions(cmd)
	if err != nil {
		return err
	}
	profile, err := resolveProfile(cmd, cfg)
	if err != nil {
		return err
	}

	secCtx := security.NewContext(currentUser(), []string{
		security.PermWorkflowExecute,
		security.PermShellExecute,
		security.PermFileWrite,
	}, profile).WithMaxLogLength(cfg.Limits.MaxLogLength)

	engine := orchestrator.NewEngine(cfg, profile)
	execution, err := engine.Execute(cmd.Context(), wf, inputs, secCtx, opts)
	if execution != nil {
		if writeErr := writeExecutionRecord(cmd, execution); writeErr != nil {
			log.Error("could not write execution record", "error", writeErr)
		}
		printSummary(cmd, execution)
	}
	if err != nil {
		return err
	}
	return nil
}

func parseInputsFlag(cmd *cobra.Command) (core.Input, error) {
	raw, err := cmd.Flags().GetString("inputs")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	inputs := core.Input{}
	if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
		return nil, fmt.Errorf("--inputs must be a JSON object: %w", err)
	}
	return inputs, nil
}

func parseRunOptions(cmd *cobra.Command) (orchestrator.RunOptions, error) {
	executionID, err := cmd.Flags().GetString("execution-id")
	if err != nil {
		return orchestrator.RunOptions{}, err
	}
	resumeFrom, err := cmd.Flags().GetString("resume-from")
	if err != nil {
		return orchestrator.RunOptions{}, err
	}
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return orchestrator.RunOptions{}, err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return orchestrator.RunOptions{}, err
	}
	return orchestrator.RunOptions{
		ExecutionID: executionID,
		ResumeFrom:  resumeFrom,
		NoCache:     noCache,
		DryRun:      dryRun,
	}, nil
}

func resolveProfile(cmd *cobra.Command, cfg *config.Config) (security.Profile, error) {
	name, err := cmd.Flags().GetString("profile")
	if err != nil {
		return "", err
	}
	if name == "" {
		name = cfg.Security.Profile
	}
	return security.ParseProfile(name), nil
}

func writeExecutionRecord(cmd *cobra.Command, execution *orchestrator.Execution) error {
	path, err := cmd.Flags().GetString("output")
	if err != nil || path == "" {
		return err
	}
	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(cmd *cobra.Command, execution *orchestrator.Execution) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution %s: %s\n", execution.ID, execution.Status)
	for _, stepID := range execution.StepOrder {
		result, ok := execution.StepResults[stepID]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %-20s %-10s %.2fs\n", stepID, result.Status, result.Duration)
	}
	if len(execution.Outputs) > 0 {
		data, _ := json.MarshalIndent(execution.Outputs, "", "  ")
		fmt.Fprintf(out, "Outputs:\n%s\n", data)
	}
	if execution.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", execution.Error)
	}
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "local"
}
