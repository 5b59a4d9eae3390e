package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LanfordCai/allnads/internal/config"
	"github.com/LanfordCai/allnads/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
	Long:  "List stored sessions, show a session transcript, or clear a session's history.",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Delete a session's history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsClear,
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

// openStore opens the transcript store without connecting tool servers.
func openStore() (*session.Store, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionDBPath()), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return session.NewStore(cfg.SessionDBPath())
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}

	for _, info := range infos {
		fmt.Printf("%-30s %4d turns  %s\n", info.SessionID, info.TurnCount,
			info.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.LoadHistory(args[0])
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Printf("Session %q is empty.\n", args[0])
		return nil
	}

	for _, turn := range turns {
		switch {
		case len(turn.ToolCalls) > 0:
			var names []string
			for _, call := range turn.ToolCalls {
				names = append(names, call.Name)
			}
			fmt.Printf("[assistant] -> tools: %s\n", strings.Join(names, ", "))
		case turn.Role == "tool":
			fmt.Printf("[tool %s] %s\n", turn.ToolName, turn.Content)
		default:
			fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
		}
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %q cleared.\n", args[0])
	return nil
}
