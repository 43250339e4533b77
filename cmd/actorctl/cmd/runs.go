package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/actorkit/actorkit/pkg/models"
)

var (
	// runs create flags
	createActorID string
	createInput   string

	// runs status flags
	followStatus bool

	// runs set-status flags
	statusTerminal bool
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage actor runs",
	Long:  `Commands for creating, inspecting, aborting and rebooting actor runs.`,
}

var runsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new run",
	Long:  `Create a new actor run with optional JSON input.`,
	RunE:  runRunsCreate,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Get run status",
	Long:  `Retrieve the status of a run by ID. If no ID is provided, lists all runs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsStatus,
}

var runsAbortCmd = &cobra.Command{
	Use:   "abort <run-id>",
	Short: "Abort a run",
	Long:  `Request a graceful abort of a READY or RUNNING run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsAbort,
}

var runsRebootCmd = &cobra.Command{
	Use:   "reboot <run-id>",
	Short: "Reboot a run",
	Long:  `Move a RUNNING run back to READY so a fresh container can pick it up.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsReboot,
}

var runsSetStatusCmd = &cobra.Command{
	Use:   "set-status <run-id> <message>",
	Short: "Set the run status message",
	Long:  `Update the externally visible status message of a run.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsSetStatus,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsCreateCmd)
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsAbortCmd)
	runsCmd.AddCommand(runsRebootCmd)
	runsCmd.AddCommand(runsSetStatusCmd)

	runsCreateCmd.Flags().StringVar(&createActorID, "actor", "", "actor ID (required)")
	runsCreateCmd.Flags().StringVar(&createInput, "input", "", "run input as a JSON object")
	runsCreateCmd.MarkFlagRequired("actor")

	runsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll run status every 2 seconds until it finishes")

	runsSetStatusCmd.Flags().BoolVar(&statusTerminal, "terminal", false, "mark the message as terminal")
}

func runRunsCreate(cmd *cobra.Command, args []string) error {
	req := &models.RunRequest{ActorID: createActorID, Origin: "CLI"}
	if createInput != "" {
		if err := json.Unmarshal([]byte(createInput), &req.Input); err != nil {
			return fmt.Errorf("invalid input JSON: %w", err)
		}
	}

	run, err := apiClient().CreateRun(context.Background(), req)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(run)
	}
	displayRun(run)
	fmt.Printf("\nRun created: %s\n", run.ID)
	return nil
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllRuns()
	}
	runID := args[0]

	if followStatus {
		fmt.Printf("Following run %s (press Ctrl+C to stop)...\n\n", runID)
		for {
			run, err := apiClient().GetRun(context.Background(), runID)
			if err != nil {
				return err
			}
			fmt.Print("\033[H\033[2J")
			displayRun(run)
			if models.IsTerminalStatus(run.Status) {
				fmt.Println("\nRun reached a terminal status")
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}

	run, err := apiClient().GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(run)
	}
	displayRun(run)
	return nil
}

func listAllRuns() error {
	runs, err := apiClient().ListRuns(context.Background())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(map[string]interface{}{"runs": runs, "count": len(runs)})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run ID", "Actor", "Status", "Message", "Reboots", "Started")

	for _, run := range runs {
		message := run.StatusMessage
		if message == "" {
			message = "-"
		}
		table.Append(
			run.ID,
			run.ActorID,
			string(run.Status),
			message,
			fmt.Sprintf("%d", run.RebootCount),
			run.StartedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal runs: %d\n", len(runs))
	return nil
}

func runRunsAbort(cmd *cobra.Command, args []string) error {
	run, err := apiClient().AbortRun(context.Background(), args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(run)
	}
	fmt.Printf("Run %s is now %s\n", run.ID, run.Status)
	return nil
}

func runRunsReboot(cmd *cobra.Command, args []string) error {
	if err := apiClient().RebootRun(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Run %s queued for reboot\n", args[0])
	return nil
}

func runRunsSetStatus(cmd *cobra.Command, args []string) error {
	if err := apiClient().SetStatusMessage(context.Background(), args[0], args[1], statusTerminal); err != nil {
		return err
	}
	fmt.Printf("Status message updated for run %s\n", args[0])
	return nil
}

func displayRun(run *models.Run) {
	if IsJSONOutput() {
		printJSON(run)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Run ID", run.ID)
	table.Append("Actor", run.ActorID)
	table.Append("Status", string(run.Status))
	if run.StatusMessage != "" {
		table.Append("Message", run.StatusMessage)
	}
	if run.ExitCode != nil {
		table.Append("Exit Code", fmt.Sprintf("%d", *run.ExitCode))
	}
	table.Append("Origin", run.Origin)
	table.Append("Reboots", fmt.Sprintf("%d", run.RebootCount))
	table.Append("Started At", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		table.Append("Finished At", run.FinishedAt.Format(time.RFC3339))
	}
	if run.DefaultKeyValueStoreID != "" {
		table.Append("Key-Value Store", run.DefaultKeyValueStoreID)
	}
	if run.DefaultDatasetID != "" {
		table.Append("Dataset", run.DefaultDatasetID)
	}

	table.Render()
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
