package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callArgsJSON string

var callCmd = &cobra.Command{
	Use:   "call <server__tool>",
	Short: "Invoke one tool directly",
	Long:  "Invoke a single tool by its qualified name, outside any conversation. Useful for checking that a tool server works.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArgsJSON, "args", "{}", "tool arguments as a JSON object")
}

func runCall(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(callArgsJSON), &toolArgs); err != nil {
		return fmt.Errorf("parse --args: %w", err)
	}

	ctx := context.Background()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.close()

	result := svc.dispatcher.CallTool(ctx, args[0], toolArgs)
	if result.IsError {
		return fmt.Errorf("%s", result.Text())
	}

	fmt.Println(result.Text())
	return nil
}
